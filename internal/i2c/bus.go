// Package i2c kapselt den geteilten I2C-Bus hinter einem Register-Interface.
// Alle Chip-Treiber (PWM, Expander) sprechen ausschliesslich über RegisterBus.
package i2c

import "fmt"

// RegisterBus ist die Transaktionsschnittstelle für register-orientierte
// I2C-Geräte. Implementierungen müssen nebenläufige Aufrufe serialisieren,
// damit Mehrbyte-Transfers nicht zerrissen werden.
type RegisterBus interface {
	// WriteReg schreibt ein einzelnes Register
	WriteReg(addr uint8, reg uint8, value uint8) error

	// WriteRegs schreibt aufeinanderfolgende Register ab reg
	WriteRegs(addr uint8, reg uint8, values []byte) error

	// ReadRegs liest n aufeinanderfolgende Register ab reg
	ReadRegs(addr uint8, reg uint8, n int) ([]byte, error)

	// Probe prüft ob unter addr ein Gerät antwortet
	Probe(addr uint8) error
}

// AddrError markiert eine fehlgeschlagene Transaktion mit Geräteadresse
type AddrError struct {
	Addr uint8
	Op   string
	Err  error
}

func (e *AddrError) Error() string {
	return fmt.Sprintf("i2c %s 0x%02X: %v", e.Op, e.Addr, e.Err)
}

func (e *AddrError) Unwrap() error {
	return e.Err
}
