// Package i2ctest provides an in-memory RegisterBus for driver tests.
package i2ctest

import (
	"fmt"
	"sync"
)

// Write records a single bus write transaction
type Write struct {
	Addr   uint8
	Reg    uint8
	Values []byte
}

// Bus is a scripted RegisterBus. Registers live in a per-address map,
// writes are recorded in order, reads come from queued responses first
// and fall back to the register map with auto-increment.
type Bus struct {
	mu        sync.Mutex
	regs      map[uint8]map[uint8]uint8
	writes    []Write
	readQueue map[uint16][][]byte
	failAddrs map[uint8]error
	failNext  error
}

func NewBus() *Bus {
	return &Bus{
		regs:      make(map[uint8]map[uint8]uint8),
		readQueue: make(map[uint16][][]byte),
		failAddrs: make(map[uint8]error),
	}
}

func key(addr, reg uint8) uint16 {
	return uint16(addr)<<8 | uint16(reg)
}

// SetReg seeds a register value without recording a write
func (b *Bus) SetReg(addr, reg, value uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deviceRegs(addr)[reg] = value
}

// Reg returns the current value of a register
func (b *Bus) Reg(addr, reg uint8) uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deviceRegs(addr)[reg]
}

// QueueRead scripts the next ReadRegs result for (addr, reg)
func (b *Bus) QueueRead(addr, reg uint8, values []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key(addr, reg)
	b.readQueue[k] = append(b.readQueue[k], values)
}

// FailAddr makes every transaction against addr fail with err
func (b *Bus) FailAddr(addr uint8, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAddrs[addr] = err
}

// FailNext makes only the next transaction fail with err
func (b *Bus) FailNext(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = err
}

// Writes returns all recorded writes in order
func (b *Bus) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Write, len(b.writes))
	copy(out, b.writes)
	return out
}

// WritesTo returns recorded writes for a single device address
func (b *Bus) WritesTo(addr uint8) []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Write
	for _, w := range b.writes {
		if w.Addr == addr {
			out = append(out, w)
		}
	}
	return out
}

// ClearWrites drops the recorded write log, register state stays
func (b *Bus) ClearWrites() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = nil
}

func (b *Bus) deviceRegs(addr uint8) map[uint8]uint8 {
	if b.regs[addr] == nil {
		b.regs[addr] = make(map[uint8]uint8)
	}
	return b.regs[addr]
}

func (b *Bus) checkFail(addr uint8) error {
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return err
	}
	if err, ok := b.failAddrs[addr]; ok {
		return err
	}
	return nil
}

func (b *Bus) WriteReg(addr uint8, reg uint8, value uint8) error {
	return b.WriteRegs(addr, reg, []byte{value})
}

func (b *Bus) WriteRegs(addr uint8, reg uint8, values []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkFail(addr); err != nil {
		return err
	}

	recorded := make([]byte, len(values))
	copy(recorded, values)
	b.writes = append(b.writes, Write{Addr: addr, Reg: reg, Values: recorded})

	dev := b.deviceRegs(addr)
	for i, v := range values {
		dev[reg+uint8(i)] = v
	}
	return nil
}

func (b *Bus) ReadRegs(addr uint8, reg uint8, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkFail(addr); err != nil {
		return nil, err
	}

	k := key(addr, reg)
	if queue := b.readQueue[k]; len(queue) > 0 {
		next := queue[0]
		b.readQueue[k] = queue[1:]
		if len(next) != n {
			return nil, fmt.Errorf("queued read for 0x%02X/0x%02X has %d bytes, %d requested",
				addr, reg, len(next), n)
		}
		return next, nil
	}

	dev := b.deviceRegs(addr)
	out := make([]byte, n)
	for i := range out {
		out[i] = dev[reg+uint8(i)]
	}
	return out, nil
}

func (b *Bus) Probe(addr uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checkFail(addr)
}
