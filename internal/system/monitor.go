package system

import (
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// statsInterval ist der Abstand der Laufzeitstatistik im Log
const statsInterval = 30 * time.Second

// Monitor schreibt periodisch Speicher- und Goroutine-Statistiken ins Log.
// Der Controller läuft auf dem Zielrechner wochenlang durch, ein
// schleichendes Leck soll im Log auffallen bevor der Kernel eingreift.
type Monitor struct {
	clock  clock.Clock
	logger *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewMonitor(clk clock.Clock, logger *zap.Logger) *Monitor {
	return &Monitor{
		clock:    clk,
		logger:   logger.Named("heap_mon"),
		stopChan: make(chan struct{}),
	}
}

// Start startet die periodische Ausgabe
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop beendet die Ausgabe und wartet auf die Poller-Goroutine
func (m *Monitor) Stop() {
	close(m.stopChan)
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := m.clock.Ticker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.report()
		}
	}
}

func (m *Monitor) report() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	m.logger.Info("Runtime statistics",
		zap.Uint64("heap_alloc", stats.HeapAlloc),
		zap.Uint64("heap_sys", stats.HeapSys),
		zap.Uint32("num_gc", stats.NumGC),
		zap.Int("goroutines", runtime.NumGoroutine()))
}
