// Package mcp23017 treibt den 16-Kanal IO-Expander MCP23017 als
// Rückmelde-Eingang (Tape-Spannung) für die Feeder.
package mcp23017

import (
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/i2c"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Registeradressen laut Datenblatt (BANK=0)
const (
	regIODirA  = 0x00
	regPullUpA = 0x0C
	regInputA  = 0x12
)

// NumChannels ist die Anzahl IO-Pins pro Chip
const NumChannels = 16

// DefaultPollInterval ist das Abtastintervall der Eingänge
const DefaultPollInterval = 50 * time.Millisecond

// Callback wird bei jeder Pegeländerung eines abonnierten Kanals gerufen
type Callback = func(state bool)

// Expander pollt die 16 Eingänge zyklisch und meldet Flanken an die
// abonnierten Kanäle. Mehrere Feeder teilen sich eine Instanz.
type Expander struct {
	bus      i2c.RegisterBus
	addr     uint8
	logger   *zap.Logger
	clock    clock.Clock
	interval time.Duration

	mu        sync.Mutex
	state     [2]uint8
	callbacks [NumChannels]Callback
	stopChan  chan struct{}
	wg        sync.WaitGroup
	running   bool
}

func New(bus i2c.RegisterBus, interval time.Duration, clk clock.Clock, logger *zap.Logger) *Expander {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Expander{
		bus:      bus,
		interval: interval,
		clock:    clk,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Configure prüft das Gerät, schaltet alle Pins auf Input mit Pull-up und
// nimmt den ersten Snapshot der Eingänge.
func (e *Expander) Configure(address uint8) error {
	e.addr = address

	if err := e.bus.Probe(address); err != nil {
		return fmt.Errorf("device not responding: %w", err)
	}

	// alle 16 Pins als Eingang
	if err := e.bus.WriteRegs(address, regIODirA, []byte{0xFF, 0xFF}); err != nil {
		return err
	}

	// Pull-ups auf allen Pins
	if err := e.bus.WriteRegs(address, regPullUpA, []byte{0xFF, 0xFF}); err != nil {
		return err
	}

	state, err := e.bus.ReadRegs(address, regInputA, 2)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.state[0] = state[0]
	e.state[1] = state[1]
	e.mu.Unlock()

	e.logger.Info("Feedback expander configured",
		zap.String("address", fmt.Sprintf("0x%02X", address)))

	return nil
}

// Start startet das zyklische Polling
func (e *Expander) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}

	e.running = true
	e.wg.Add(1)
	go e.pollLoop()

	e.logger.Info("Feedback polling started",
		zap.String("address", fmt.Sprintf("0x%02X", e.addr)),
		zap.Duration("interval", e.interval))
}

// Stop stoppt das Polling
func (e *Expander) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopChan)
	e.wg.Wait()

	e.logger.Info("Feedback polling stopped",
		zap.String("address", fmt.Sprintf("0x%02X", e.addr)))
}

// Subscribe registriert den Callback für einen Kanal, ein bestehender
// Callback wird ersetzt.
func (e *Expander) Subscribe(channel uint8, callback Callback) error {
	if channel >= NumChannels {
		return fmt.Errorf("channel %d out of range", channel)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks[channel] = callback
	return nil
}

// State liefert den zuletzt gelesenen Pegel eines Kanals
func (e *Expander) State(channel uint8) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if channel < 8 {
		return e.state[0]&(1<<channel) != 0
	}
	return e.state[1]&(1<<(channel-8)) != 0
}

func (e *Expander) Address() uint8 {
	return e.addr
}

func (e *Expander) pollLoop() {
	defer e.wg.Done()

	ticker := e.clock.Ticker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.poll()
		}
	}
}

type edge struct {
	callback Callback
	state    bool
}

// poll liest beide Ports in einer Transaktion und meldet geänderte Bits.
// Bei Lesefehlern bleibt der letzte Snapshot stehen.
func (e *Expander) poll() {
	state, err := e.bus.ReadRegs(e.addr, regInputA, 2)
	if err != nil {
		e.logger.Error("Feedback poll failed",
			zap.String("address", fmt.Sprintf("0x%02X", e.addr)),
			zap.Error(err))
		return
	}

	var edges []edge

	e.mu.Lock()
	for bit := uint8(0); bit < 8; bit++ {
		mask := uint8(1) << bit

		if state[0]&mask != e.state[0]&mask {
			if cb := e.callbacks[bit]; cb != nil {
				edges = append(edges, edge{cb, state[0]&mask != 0})
			}
		}
		if state[1]&mask != e.state[1]&mask {
			if cb := e.callbacks[bit+8]; cb != nil {
				edges = append(edges, edge{cb, state[1]&mask != 0})
			}
		}
	}
	e.state[0] = state[0]
	e.state[1] = state[1]
	e.mu.Unlock()

	// Callbacks ausserhalb des Locks, die Feeder nehmen eigene Mutexe
	for _, ed := range edges {
		ed.callback(ed.state)
	}
}
