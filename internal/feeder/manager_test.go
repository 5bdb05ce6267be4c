package feeder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/config"
	"github.com/KevinKickass/OpenFeederCore/internal/i2c/i2ctest"
	"github.com/KevinKickass/OpenFeederCore/internal/storage"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errNoAck = errors.New("no ack")

// managerFixture bestückt den Bus mit einem PCA9685 auf 0x40 und einem
// MCP23017 auf 0x20, alle weiteren gescannten Adressen antworten nicht
type managerFixture struct {
	bus   *i2ctest.Bus
	clock *clock.Mock
	store *storage.MemoryStore
	opts  ManagerOptions
}

func newManagerFixture(t *testing.T) *managerFixture {
	bus := i2ctest.NewBus()
	bus.FailAddr(0x41, errNoAck)
	bus.FailAddr(0x21, errNoAck)
	// beide GPIO-Ports melden gespannte Bänder
	bus.SetReg(0x20, 0x12, 0xFF)
	bus.SetReg(0x20, 0x13, 0xFF)

	mock := clock.NewMock()
	store := storage.NewMemoryStore()

	return &managerFixture{
		bus:   bus,
		clock: mock,
		store: store,
		opts: ManagerOptions{
			Bus:    bus,
			Store:  store,
			Clock:  mock,
			Logger: zaptest.NewLogger(t),
			I2C: config.I2CConfig{
				PCA9685BaseAddress:   0x40,
				PCA9685Count:         2,
				PCA9685Frequency:     50,
				MCP23017BaseAddress:  0x20,
				MCP23017Count:        2,
				FeedbackPollInterval: 50 * time.Millisecond,
			},
			Fleet: config.FeederConfig{
				MaxCount: 4,
			},
			Defaults: DefaultConfig(),
		},
	}
}

func (fx *managerFixture) start(t *testing.T) *Manager {
	m := NewManager(fx.opts)
	require.NoError(t, m.Start(context.Background()))
	return m
}

func TestManagerBuildsFleet(t *testing.T) {
	fx := newManagerFixture(t)
	m := fx.start(t)

	assert.Equal(t, 1, m.DriverCount())
	assert.Equal(t, 1, m.ExpanderCount())
	assert.Equal(t, 4, m.Count(), "16 Kanäle werden auf max_count gekappt")

	// Identitätstabelle und eine Konfiguration pro Feeder sind persistiert
	blob, err := fx.store.Get(context.Background(), uuidTableKey)
	require.NoError(t, err)
	assert.Len(t, blob, fx.opts.Fleet.MaxCount*16)

	keys, err := fx.store.Keys(context.Background(), "feeder-")
	require.NoError(t, err)
	assert.Len(t, keys, 4)

	// jeder Feeder hat seine Ruhestellung angefahren
	for slot := 0; slot < 4; slot++ {
		f, ok := m.Feeder(slot)
		require.True(t, ok)
		assert.Equal(t, slot, f.Slot())
		assert.False(t, f.IsEnabled())
		assert.Equal(t, PositionRetracted, f.Snapshot().Position)
	}
}

func TestManagerFeederAccessors(t *testing.T) {
	fx := newManagerFixture(t)
	m := fx.start(t)

	_, ok := m.Feeder(-1)
	assert.False(t, ok)
	_, ok = m.Feeder(4)
	assert.False(t, ok)

	f, ok := m.Feeder(2)
	require.True(t, ok)

	byUUID, ok := m.ByUUID(f.UID())
	require.True(t, ok)
	assert.Same(t, f, byUUID)

	_, ok = m.ByUUID(uuid.New())
	assert.False(t, ok)

	assert.Len(t, m.Feeders(), 4)
}

func TestManagerAutoEnable(t *testing.T) {
	fx := newManagerFixture(t)
	fx.opts.Fleet.AutoEnable = true
	m := fx.start(t)

	for _, f := range m.Feeders() {
		assert.True(t, f.IsEnabled())
	}
}

func TestManagerSkipsFailedDevices(t *testing.T) {
	fx := newManagerFixture(t)
	fx.bus.FailAddr(0x40, errNoAck)
	fx.bus.FailAddr(0x20, errNoAck)

	m := fx.start(t)

	assert.Equal(t, 0, m.DriverCount())
	assert.Equal(t, 0, m.ExpanderCount())
	assert.Equal(t, 0, m.Count())
}

func TestManagerSecondDriverExtendsFleet(t *testing.T) {
	fx := newManagerFixture(t)
	fx.bus = i2ctest.NewBus()
	fx.bus.FailAddr(0x20, errNoAck)
	fx.bus.FailAddr(0x21, errNoAck)
	fx.opts.Bus = fx.bus
	fx.opts.Fleet.MaxCount = 40

	m := fx.start(t)

	assert.Equal(t, 2, m.DriverCount())
	assert.Equal(t, 32, m.Count())

	// Slot 16 liegt auf Kanal 0 des zweiten Treibers
	f, ok := m.Feeder(16)
	require.True(t, ok)
	assert.Equal(t, 16, f.Slot())

	var servoWrites int
	for _, w := range fx.bus.WritesTo(0x41) {
		if w.Reg == 0x06 && len(w.Values) == 4 {
			servoWrites++
		}
	}
	assert.NotZero(t, servoWrites, "Ruhestellung von Slot 16 muss auf 0x41 geschrieben werden")
}

func TestManagerUUIDsSurviveRestart(t *testing.T) {
	fx := newManagerFixture(t)
	first := fx.start(t)

	want := make([]uuid.UUID, first.Count())
	for idx, f := range first.Feeders() {
		want[idx] = f.UID()
	}
	require.NoError(t, first.Shutdown())

	second := fx.start(t)
	require.Equal(t, len(want), second.Count())
	for idx, f := range second.Feeders() {
		assert.Equal(t, want[idx], f.UID(), "slot %d", idx)
	}
}

func TestManagerRegeneratesCorruptUUIDTable(t *testing.T) {
	fx := newManagerFixture(t)
	require.NoError(t, fx.store.Put(context.Background(), uuidTableKey, []byte{1, 2, 3}))

	m := fx.start(t)

	blob, err := fx.store.Get(context.Background(), uuidTableKey)
	require.NoError(t, err)
	assert.Len(t, blob, fx.opts.Fleet.MaxCount*16)

	f, ok := m.Feeder(0)
	require.True(t, ok)
	assert.NotEqual(t, uuid.UUID{}, f.UID())
}

// brokenStore überlagert Get mit einem festen Fehler
type brokenStore struct {
	storage.Store
	err error
}

func (b brokenStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, b.err
}

func TestManagerAbortsOnIdentityReadFault(t *testing.T) {
	fx := newManagerFixture(t)
	fx.opts.Store = brokenStore{Store: fx.store, err: errors.New("disk fault")}

	m := NewManager(fx.opts)
	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feeder identities")
	assert.Equal(t, 0, m.Count())
}

func TestManagerFeedbackPairing(t *testing.T) {
	fx := newManagerFixture(t)
	// ohne gespannte Bänder meldet der Expander false
	fx.bus.SetReg(0x20, 0x12, 0x00)
	fx.bus.SetReg(0x20, 0x13, 0x00)
	m := fx.start(t)

	f, ok := m.Feeder(0)
	require.True(t, ok)
	assert.False(t, f.IsTensioned(), "Expander des Treibers liefert den Zustand")

	// ohne Expander gilt der Feeder als gespannt
	bare := newManagerFixture(t)
	bare.bus.FailAddr(0x20, errNoAck)
	m = bare.start(t)

	f, ok = m.Feeder(0)
	require.True(t, ok)
	assert.True(t, f.IsTensioned())
}

func TestManagerShutdown(t *testing.T) {
	fx := newManagerFixture(t)
	m := fx.start(t)
	fx.clock.Add(time.Duration(DefaultSettleTimeMs) * time.Millisecond)

	require.NoError(t, m.Shutdown())

	for _, f := range m.Feeders() {
		assert.False(t, f.IsEnabled())
		assert.False(t, f.IsBusy())
	}

	writes := fx.bus.WritesTo(0x40)
	require.NotEmpty(t, writes)
	last := writes[len(writes)-1]
	assert.Equal(t, uint8(0xFC), last.Reg, "ALL_LED_OFF beendet den Shutdown")
	assert.Equal(t, []byte{0x00, 0x10}, last.Values)
}

func TestManagerShutdownReportsDriverFault(t *testing.T) {
	fx := newManagerFixture(t)
	m := fx.start(t)

	fx.bus.FailAddr(0x40, errNoAck)
	err := m.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x40")
}
