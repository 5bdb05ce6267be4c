// Package system fährt den Controller hoch und wieder herunter und hält
// dessen Lebenszyklus-Zustand für die Monitoring-API bereit.
package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/api/rest"
	"github.com/KevinKickass/OpenFeederCore/internal/api/websocket"
	"github.com/KevinKickass/OpenFeederCore/internal/config"
	"github.com/KevinKickass/OpenFeederCore/internal/feeder"
	"github.com/KevinKickass/OpenFeederCore/internal/gcode"
	"github.com/KevinKickass/OpenFeederCore/internal/i2c"
	"github.com/KevinKickass/OpenFeederCore/internal/profiles"
	"github.com/KevinKickass/OpenFeederCore/internal/storage"
	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options bündelt die von aussen gehaltenen Abhängigkeiten des Controllers.
// Bus und Store werden vom Aufrufer geöffnet und auch wieder geschlossen.
type Options struct {
	Config  *config.Config
	Bus     i2c.RegisterBus
	Store   storage.Store
	Clock   clock.Clock
	Logger  *zap.Logger
	Version string
}

// LifecycleManager verdrahtet Flotte, G-Code-Server und Monitoring-API und
// fährt sie in fester Reihenfolge hoch und herunter
type LifecycleManager struct {
	config  *config.Config
	bus     i2c.RegisterBus
	store   storage.Store
	clock   clock.Clock
	logger  *zap.Logger
	version string

	manager     *feeder.Manager
	hub         *websocket.Hub
	gcodeServer *gcode.Server
	restServer  *rest.Server
	monitor     *Monitor

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    string
	startedAt    time.Time

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(opts Options) *LifecycleManager {
	return &LifecycleManager{
		config:       opts.Config,
		bus:          opts.Bus,
		store:        opts.Store,
		clock:        opts.Clock,
		logger:       opts.Logger,
		version:      opts.Version,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}
}

// Start fährt den Controller hoch. Der WebSocket-Hub läuft vor dem
// Flottenaufbau, damit schon die ersten Zustandswechsel der Feeder
// gemeldet werden. Die Maschinenschnittstellen folgen erst wenn die
// Flotte steht, vorher gibt es nichts zu bedienen.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenFeederCore", zap.String("version", lm.version))
	lm.startedAt = lm.clock.Now()

	defaults := lm.resolveDefaults()

	lm.hub = websocket.NewHub(lm.logger.Named("ws_hub"))
	go lm.hub.Run()

	lm.manager = feeder.NewManager(feeder.ManagerOptions{
		Bus:      lm.bus,
		Store:    lm.store,
		Sink:     lm.hub,
		Clock:    lm.clock,
		Logger:   lm.logger.Named("feeder_mgr"),
		I2C:      lm.config.I2C,
		Fleet:    lm.config.Feeder,
		Defaults: defaults,
	})
	if err := lm.manager.Start(ctx); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start feeder manager: %w", err)
	}
	lm.hub.SetFleetSnapshotProvider(lm.manager)

	if err := lm.startGCodeServer(); err != nil {
		lm.setError(err)
		return err
	}
	if err := lm.startRESTServer(); err != nil {
		lm.setError(err)
		return err
	}

	lm.monitor = NewMonitor(lm.clock, lm.logger)
	lm.monitor.Start()

	lm.setState(StateRunning)
	lm.broadcastState()

	lm.logger.Info("System started successfully",
		zap.Int("gcode_port", lm.config.Server.GCodePort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("feeders", lm.manager.Count()),
		zap.Int("drivers", lm.manager.DriverCount()),
		zap.Int("expanders", lm.manager.ExpanderCount()))

	return nil
}

// resolveDefaults bestimmt die Startkalibrierung neu angelegter Feeder. Ein
// konfiguriertes Standardprofil übersteuert die Werte aus der
// Konfigurationsdatei, ein fehlendes Profil ist kein Startabbruch.
func (lm *LifecycleManager) resolveDefaults() feeder.Config {
	defaults := feeder.ConfigFromSettings(lm.config.Feeder)

	name := lm.config.Feeder.DefaultProfile
	if name == "" {
		return defaults
	}

	loader, err := profiles.NewLoader(lm.config.Profiles.SearchPaths)
	if err != nil {
		lm.logger.Warn("Failed to initialize profile loader, using configured calibration",
			zap.Error(err))
		return defaults
	}

	profile, err := loader.Load(name)
	if err != nil {
		lm.logger.Warn("Failed to load default profile, using configured calibration",
			zap.String("profile", name),
			zap.Error(err))
		return defaults
	}

	lm.logger.Info("Default feeder profile loaded", zap.String("profile", name))
	return feeder.ConfigFromProfile(profile)
}

func (lm *LifecycleManager) startGCodeServer() error {
	lm.gcodeServer = gcode.NewServer(lm.version, lm.clock, lm.logger.Named("gcode_server"))
	lm.manager.RegisterHandlers(lm.gcodeServer)

	if err := lm.gcodeServer.Start(lm.config.Server.GCodePort); err != nil {
		return fmt.Errorf("failed to start gcode server: %w", err)
	}
	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm.manager, lm, lm.hub, lm.logger.Named("rest"))
	if err := lm.restServer.Start(); err != nil {
		return fmt.Errorf("failed to start rest api: %w", err)
	}
	return nil
}

// Shutdown fährt den Controller herunter. Erst schliessen die
// Maschinenschnittstellen, dann wird die Flotte stromlos geschaltet. Die
// Hardware wird auch bei Fehlern der Server noch abgeschaltet.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.broadcastState()

		shutdownErr = lm.stopServers(ctx)
		shutdownErr = multierr.Append(shutdownErr, lm.stopHardware())

		lm.setState(StateStopped)
		close(lm.shutdownChan)

		lm.logger.Info("Shutdown completed")
	})

	return shutdownErr
}

// stopServers schliesst Monitoring-API und G-Code-Server parallel
func (lm *LifecycleManager) stopServers(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 1)

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.gcodeServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.gcodeServer.Stop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		lm.logger.Warn("Server shutdown timeout, forcing stop")
		return fmt.Errorf("shutdown timeout exceeded")
	case err := <-errChan:
		return err
	}
}

// stopHardware hält die Statistik an und schaltet die Flotte stromlos
func (lm *LifecycleManager) stopHardware() error {
	if lm.monitor != nil {
		lm.monitor.Stop()
	}
	if lm.manager == nil {
		return nil
	}
	if err := lm.manager.Shutdown(); err != nil {
		return fmt.Errorf("feeder manager shutdown failed: %w", err)
	}
	return nil
}

// SystemStatus liefert den Zustand des Controllers für die Monitoring-API
func (lm *LifecycleManager) SystemStatus() any {
	lm.stateMu.RLock()
	state := lm.currentState
	lastError := lm.lastError
	lm.stateMu.RUnlock()

	status := SystemStatus{
		State:     state,
		Version:   lm.version,
		Timestamp: lm.clock.Now().Unix(),
		Error:     lastError,
	}
	if !lm.startedAt.IsZero() {
		status.UptimeSec = int64(lm.clock.Since(lm.startedAt).Seconds())
	}
	if lm.manager != nil {
		status.Feeders = lm.manager.Count()
		status.Drivers = lm.manager.DriverCount()
		status.Expanders = lm.manager.ExpanderCount()
	}
	if lm.gcodeServer != nil {
		status.GCodeClients = lm.gcodeServer.ClientCount()
	}
	if lm.hub != nil {
		status.WSClients = lm.hub.GetClientCount()
	}
	return status
}

// State liefert den aktuellen Lebenszyklus-Zustand
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// Manager liefert die Feeder-Flotte
func (lm *LifecycleManager) Manager() *feeder.Manager {
	return lm.manager
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	lm.lastError = err.Error()
	lm.currentState = StateError
}

// broadcastState meldet den Lebenszyklus-Zustand an die WebSocket-Clients
func (lm *LifecycleManager) broadcastState() {
	if lm.hub == nil {
		return
	}

	lm.stateMu.RLock()
	state := lm.currentState
	lastError := lm.lastError
	lm.stateMu.RUnlock()

	lm.hub.Broadcast(websocket.NewSystemStatusMessage(state.String(), lastError))
}
