// Package pca9685 treibt den 16-Kanal PWM/Servo-Controller PCA9685.
package pca9685

import (
	"fmt"

	"github.com/KevinKickass/OpenFeederCore/internal/i2c"
	"go.uber.org/zap"
)

// Registeradressen laut Datenblatt
const (
	regMode1    = 0x00
	regMode2    = 0x01
	regLed0OnL  = 0x06
	regAllOffL  = 0xFC
	regPrescale = 0xFE
)

const (
	// NumChannels ist die Anzahl PWM-Ausgänge pro Chip
	NumChannels = 16

	// MaxCount ist die 12-bit Zählerauflösung
	MaxCount = 4096

	// interner Oszillator, 25 MHz
	internalClockHz = 25000000

	mode1AutoIncrement = 0x20
	mode1Sleep         = 0x10

	// push/pull Ausgänge, Update bei ACK
	mode2OutputCheck = 0x0C

	// Bit 12 im ON/OFF Registerpaar
	fullBit = 0x1000

	servoMaxAngle = 180
)

// Driver steuert einen einzelnen PCA9685. Mehrere Feeder teilen sich eine
// Instanz; die Bus-Serialisierung übernimmt der RegisterBus.
type Driver struct {
	bus    i2c.RegisterBus
	addr   uint8
	logger *zap.Logger
}

func New(bus i2c.RegisterBus, logger *zap.Logger) *Driver {
	return &Driver{
		bus:    bus,
		logger: logger,
	}
}

// Configure prüft das Gerät und programmiert Prescaler und Mode-Register.
// frequency muss im erreichbaren Bereich des internen Takts liegen
// (Prescaler 3..255, ca. 24..1525 Hz).
func (d *Driver) Configure(address uint8, frequency uint32) error {
	d.addr = address

	if err := d.bus.Probe(address); err != nil {
		return fmt.Errorf("device not responding: %w", err)
	}

	if frequency == 0 {
		return fmt.Errorf("invalid PWM frequency: %d", frequency)
	}
	prescale := internalClockHz/(MaxCount*int(frequency)) - 1
	if prescale < 3 || prescale > 255 {
		return fmt.Errorf("invalid PWM frequency: %d", frequency)
	}

	// Prescaler ist nur im Sleep-Modus schreibbar
	if err := d.bus.WriteReg(address, regMode1, mode1AutoIncrement|mode1Sleep); err != nil {
		return err
	}
	if err := d.bus.WriteReg(address, regPrescale, uint8(prescale)); err != nil {
		return err
	}
	if err := d.bus.WriteReg(address, regMode1, mode1AutoIncrement); err != nil {
		return err
	}
	if err := d.bus.WriteReg(address, regMode2, mode2OutputCheck); err != nil {
		return err
	}

	d.logger.Info("PWM driver configured",
		zap.String("address", fmt.Sprintf("0x%02X", address)),
		zap.Uint32("frequency", frequency),
		zap.Int("prescale", prescale))

	return nil
}

// SetChannelPulse programmiert das 12-bit ON/OFF Paar eines Kanals.
// Die ON-Phase wird um channel*256 versetzt, damit sich die Einschaltströme
// der 16 Kanäle über die Periode verteilen. count==0 erzwingt full-off,
// count>=MaxCount erzwingt full-on.
func (d *Driver) SetChannelPulse(channel uint8, count uint16) error {
	if channel >= NumChannels {
		return fmt.Errorf("channel %d out of range", channel)
	}

	var on, off uint16
	switch {
	case count >= MaxCount:
		on = fullBit
	case count == 0:
		off = fullBit
	default:
		on = uint16(channel) * 256
		off = (count + uint16(channel)*256) % MaxCount
	}

	reg := uint8(regLed0OnL + 4*channel)
	return d.bus.WriteRegs(d.addr, reg, []byte{
		byte(on), byte(on >> 8),
		byte(off), byte(off >> 8),
	})
}

// SetServoAngle mappt den Winkel linear in den Pulsbereich des Servos
func (d *Driver) SetServoAngle(channel uint8, angle, minPulse, maxPulse uint16) error {
	if angle > servoMaxAngle {
		angle = servoMaxAngle
	}

	pulseRange := int(maxPulse) - int(minPulse)
	count := uint16(pulseRange*int(angle)/servoMaxAngle + int(minPulse))

	d.logger.Info("Moving servo",
		zap.String("address", fmt.Sprintf("0x%02X", d.addr)),
		zap.Uint8("channel", channel),
		zap.Uint16("angle", angle))

	return d.SetChannelPulse(channel, count)
}

// DisableChannel schaltet den Kanal auf full-off, der Servo wird stromlos
func (d *Driver) DisableChannel(channel uint8) error {
	return d.SetChannelPulse(channel, 0)
}

// AllOff schaltet alle 16 Kanäle gleichzeitig ab (ALL_LED_OFF Register)
func (d *Driver) AllOff() error {
	return d.bus.WriteRegs(d.addr, regAllOffL, []byte{0x00, byte(fullBit >> 8)})
}

func (d *Driver) Address() uint8 {
	return d.addr
}
