package feeder

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenFeederCore/internal/config"
	"github.com/KevinKickass/OpenFeederCore/internal/i2c"
	"github.com/KevinKickass/OpenFeederCore/internal/mcp23017"
	"github.com/KevinKickass/OpenFeederCore/internal/pca9685"
	"github.com/KevinKickass/OpenFeederCore/internal/storage"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// uuidTableKey ist der Speicherschlüssel der Identitätstabelle der Flotte.
// Bewusst ausserhalb des "feeder-" Präfixes der einzelnen Konfigurationen.
const uuidTableKey = "fleet-uuids"

// ManagerOptions bündelt die Abhängigkeiten des Managers
type ManagerOptions struct {
	Bus      i2c.RegisterBus
	Store    storage.Store
	Sink     EventSink
	Clock    clock.Clock
	Logger   *zap.Logger
	I2C      config.I2CConfig
	Fleet    config.FeederConfig
	Defaults Config // Startkalibrierung für neu angelegte Feeder
}

// Manager sucht die Bausteine auf dem Bus, baut daraus die Feeder-Flotte und
// verteilt die Protokollkommandos auf die einzelnen Feeder. Die Listen werden
// einmalig in Start aufgebaut und sind danach unveränderlich.
type Manager struct {
	bus      i2c.RegisterBus
	store    storage.Store
	sink     EventSink
	clock    clock.Clock
	logger   *zap.Logger
	i2cCfg   config.I2CConfig
	fleet    config.FeederConfig
	defaults Config

	drivers   []*pca9685.Driver
	expanders []*mcp23017.Expander
	feeders   []*Feeder
}

func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		bus:      opts.Bus,
		store:    opts.Store,
		sink:     opts.Sink,
		clock:    opts.Clock,
		logger:   opts.Logger,
		i2cCfg:   opts.I2C,
		fleet:    opts.Fleet,
		defaults: opts.Defaults,
	}
}

// Start sucht die Bausteine, baut die Feeder auf und startet das Polling.
// Ein nicht antwortender Baustein wird geloggt und aus dem Bestand
// ausgeschlossen, ein Speicherfehler bricht den Start ab.
func (m *Manager) Start(ctx context.Context) error {
	// PWM-Treiber suchen
	for idx := 0; idx < m.i2cCfg.PCA9685Count; idx++ {
		addr := m.i2cCfg.PCA9685BaseAddress + uint8(idx)
		drv := pca9685.New(m.bus, m.logger.Named("PCA9685"))
		if err := drv.Configure(addr, m.i2cCfg.PCA9685Frequency); err != nil {
			m.logger.Warn("PCA9685 not detected or configured",
				zap.String("address", fmt.Sprintf("0x%02X", addr)),
				zap.Error(err))
			continue
		}
		m.drivers = append(m.drivers, drv)
	}

	// Rückmelde-Expander suchen, die Zuordnung zum Treiber folgt der
	// Position in der Liste der gefundenen Bausteine
	for idx := 0; idx < m.i2cCfg.MCP23017Count; idx++ {
		addr := m.i2cCfg.MCP23017BaseAddress + uint8(idx)
		exp := mcp23017.New(m.bus, m.i2cCfg.FeedbackPollInterval, m.clock, m.logger.Named("MCP23017"))
		if err := exp.Configure(addr); err != nil {
			m.logger.Warn("MCP23017 not detected or configured",
				zap.String("address", fmt.Sprintf("0x%02X", addr)),
				zap.Error(err))
			continue
		}
		m.expanders = append(m.expanders, exp)
	}

	if len(m.drivers) == 0 {
		m.logger.Error("No PCA9685 devices detected, fleet is empty")
	}

	uuids, err := m.loadUUIDs(ctx)
	if err != nil {
		return err
	}

	count := len(m.drivers) * pca9685.NumChannels
	if count > m.fleet.MaxCount {
		count = m.fleet.MaxCount
	}

	for slot := 0; slot < count; slot++ {
		driverIdx := slot / pca9685.NumChannels
		channel := uint8(slot % pca9685.NumChannels)

		var fb FeedbackDevice
		if driverIdx < len(m.expanders) {
			fb = m.expanders[driverIdx]
		}

		f := New(Options{
			Slot:            slot,
			UID:             uuids[slot],
			Pwm:             m.drivers[driverIdx],
			PwmChannel:      channel,
			Feedback:        fb,
			FeedbackChannel: channel,
			Store:           m.store,
			Defaults:        m.defaults,
			Sink:            m.sink,
			Clock:           m.clock,
			Logger:          m.logger.Named("feeder"),
		})
		if err := f.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize feeder %d: %w", slot, err)
		}
		if m.fleet.AutoEnable {
			f.Enable()
		}
		m.feeders = append(m.feeders, f)
	}

	for _, exp := range m.expanders {
		exp.Start()
	}

	m.logger.Info("Feeder fleet ready",
		zap.Int("drivers", len(m.drivers)),
		zap.Int("expanders", len(m.expanders)),
		zap.Int("feeders", len(m.feeders)))

	return nil
}

// Shutdown stoppt das Polling, sperrt alle Feeder und schaltet die
// Servokanäle stromlos
func (m *Manager) Shutdown() error {
	var errs error

	for _, exp := range m.expanders {
		exp.Stop()
	}
	for _, f := range m.feeders {
		f.Disable()
	}
	for _, drv := range m.drivers {
		if err := drv.AllOff(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to turn off PCA9685 0x%02X: %w", drv.Address(), err))
		}
	}

	m.logger.Info("Feeder manager shut down")
	return errs
}

// loadUUIDs lädt die Identitätstabelle der Flotte oder erzeugt sie neu. Die
// Tabelle ist immer auf die maximale Flottengrösse dimensioniert, damit ein
// später erweiterter Ausbau die bestehende Zuordnung nicht verschiebt.
// Ein echter Lesefehler bricht ab, sonst würde eine kurzzeitige Störung
// die gesamte Kalibrierung von ihren Identitäten trennen.
func (m *Manager) loadUUIDs(ctx context.Context) ([]uuid.UUID, error) {
	uuids := make([]uuid.UUID, m.fleet.MaxCount)

	blob, err := m.store.Get(ctx, uuidTableKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load feeder identities: %w", err)
	}
	if err == nil && len(blob) == len(uuids)*16 {
		for idx := range uuids {
			copy(uuids[idx][:], blob[idx*16:(idx+1)*16])
		}
		return uuids, nil
	}

	m.logger.Warn("Feeder identities not found or corrupt, regenerating")

	blob = make([]byte, 0, len(uuids)*16)
	for idx := range uuids {
		uuids[idx] = uuid.New()
		blob = append(blob, uuids[idx][:]...)
	}

	if err := m.store.Put(ctx, uuidTableKey, blob); err != nil {
		m.logger.Warn("Failed to persist feeder identities, keeping in-memory values",
			zap.Error(err))
	}

	return uuids, nil
}

// Count liefert die Anzahl verwalteter Feeder
func (m *Manager) Count() int {
	return len(m.feeders)
}

// Feeder liefert den Feeder mit dem gegebenen Index
func (m *Manager) Feeder(index int) (*Feeder, bool) {
	if index < 0 || index >= len(m.feeders) {
		return nil, false
	}
	return m.feeders[index], true
}

// Feeders liefert alle verwalteten Feeder in Slot-Reihenfolge
func (m *Manager) Feeders() []*Feeder {
	return m.feeders
}

// FleetSnapshot liefert den aktuellen Zustand aller Feeder in Slot-Reihenfolge
func (m *Manager) FleetSnapshot() []Event {
	out := make([]Event, 0, len(m.feeders))
	for _, f := range m.feeders {
		out = append(out, f.Snapshot())
	}
	return out
}

// ByUUID sucht einen Feeder über seine persistente Identität
func (m *Manager) ByUUID(uid uuid.UUID) (*Feeder, bool) {
	for _, f := range m.feeders {
		if f.uid == uid {
			return f, true
		}
	}
	return nil, false
}

// DriverCount liefert die Anzahl gefundener PWM-Treiber
func (m *Manager) DriverCount() int {
	return len(m.drivers)
}

// ExpanderCount liefert die Anzahl gefundener Rückmelde-Expander
func (m *Manager) ExpanderCount() int {
	return len(m.expanders)
}
