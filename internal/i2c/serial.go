package i2c

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	periphi2c "periph.io/x/conn/v3/i2c"
	"periph.io/x/host/v3/sysfs"
)

// SerialBus serialisiert alle Transaktionen auf einem periph i2c.Bus.
// Feeder-Bewegungen und Feedback-Polling laufen aus verschiedenen
// Goroutinen auf demselben Bus; der Mutex hält jede Transaktion atomar.
type SerialBus struct {
	mu     sync.Mutex
	bus    periphi2c.Bus
	closer periphi2c.BusCloser
	logger *zap.Logger
}

// NewSerialBus wrappt einen bereits geöffneten periph Bus
func NewSerialBus(bus periphi2c.Bus, logger *zap.Logger) *SerialBus {
	return &SerialBus{
		bus:    bus,
		logger: logger,
	}
}

// Open öffnet den System-I2C-Bus ("1" oder "/dev/i2c-1") und legt einen
// General-Call Software-Reset ab, damit alle PCA9685 in definiertem Zustand
// starten.
func Open(name string, logger *zap.Logger) (*SerialBus, error) {
	num, err := busNumber(name)
	if err != nil {
		return nil, err
	}

	bus, err := sysfs.NewI2C(num)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %d: %w", num, err)
	}

	// SWRST General Call (0x00 / 0x06)
	_ = bus.Tx(0x00, []byte{0x06}, nil)
	time.Sleep(10 * time.Millisecond)

	logger.Info("I2C bus opened", zap.Int("bus", num))

	return &SerialBus{
		bus:    bus,
		closer: bus,
		logger: logger,
	}, nil
}

func busNumber(name string) (int, error) {
	s := strings.TrimPrefix(name, "/dev/i2c-")
	num, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid i2c bus name %q: %w", name, err)
	}
	return num, nil
}

// WriteReg schreibt ein einzelnes Register
func (b *SerialBus) WriteReg(addr uint8, reg uint8, value uint8) error {
	return b.WriteRegs(addr, reg, []byte{value})
}

// WriteRegs schreibt aufeinanderfolgende Register in einer Transaktion
func (b *SerialBus) WriteRegs(addr uint8, reg uint8, values []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := make([]byte, 1+len(values))
	buf[0] = reg
	copy(buf[1:], values)

	if err := b.bus.Tx(uint16(addr), buf, nil); err != nil {
		return &AddrError{Addr: addr, Op: "write", Err: err}
	}
	return nil
}

// ReadRegs liest n aufeinanderfolgende Register in einer Transaktion
func (b *SerialBus) ReadRegs(addr uint8, reg uint8, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := make([]byte, n)
	if err := b.bus.Tx(uint16(addr), []byte{reg}, buf); err != nil {
		return nil, &AddrError{Addr: addr, Op: "read", Err: err}
	}
	return buf, nil
}

// Probe prüft per leerem Write ob ein Gerät unter addr ACKt
func (b *SerialBus) Probe(addr uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.bus.Tx(uint16(addr), []byte{}, nil); err != nil {
		return &AddrError{Addr: addr, Op: "probe", Err: err}
	}
	return nil
}

// Close gibt den Bus frei (no-op wenn nur gewrappt)
func (b *SerialBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closer == nil {
		return nil
	}
	err := b.closer.Close()
	b.closer = nil
	return err
}
