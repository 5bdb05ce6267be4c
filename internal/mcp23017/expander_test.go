package mcp23017

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/i2c/i2ctest"
	clk "github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newExpander(t *testing.T, bus *i2ctest.Bus) *Expander {
	t.Helper()
	return New(bus, DefaultPollInterval, clk.NewMock(), zaptest.NewLogger(t))
}

func TestConfigure(t *testing.T) {
	bus := i2ctest.NewBus()
	bus.SetReg(0x20, regInputA, 0x0F)
	bus.SetReg(0x20, regInputA+1, 0x80)

	e := newExpander(t, bus)
	require.NoError(t, e.Configure(0x20))

	writes := bus.WritesTo(0x20)
	require.Len(t, writes, 2)
	assert.Equal(t, uint8(regIODirA), writes[0].Reg)
	assert.Equal(t, []byte{0xFF, 0xFF}, writes[0].Values)
	assert.Equal(t, uint8(regPullUpA), writes[1].Reg)
	assert.Equal(t, []byte{0xFF, 0xFF}, writes[1].Values)

	// initial snapshot is visible without a poll
	assert.True(t, e.State(0))
	assert.True(t, e.State(3))
	assert.False(t, e.State(4))
	assert.True(t, e.State(15))
	assert.False(t, e.State(8))
}

func TestConfigureDeviceNotResponding(t *testing.T) {
	bus := i2ctest.NewBus()
	bus.FailAddr(0x23, errors.New("no ack"))

	e := newExpander(t, bus)
	assert.Error(t, e.Configure(0x23))
}

func TestPollReportsEdges(t *testing.T) {
	bus := i2ctest.NewBus()
	e := newExpander(t, bus)
	require.NoError(t, e.Configure(0x20))

	var got []bool
	require.NoError(t, e.Subscribe(2, func(state bool) { got = append(got, state) }))

	// rising edge on channel 2
	bus.SetReg(0x20, regInputA, 0x04)
	e.poll()
	require.Equal(t, []bool{true}, got)
	assert.True(t, e.State(2))

	// no change, no callback
	e.poll()
	require.Equal(t, []bool{true}, got)

	// falling edge
	bus.SetReg(0x20, regInputA, 0x00)
	e.poll()
	require.Equal(t, []bool{true, false}, got)
	assert.False(t, e.State(2))
}

func TestPollSecondPort(t *testing.T) {
	bus := i2ctest.NewBus()
	e := newExpander(t, bus)
	require.NoError(t, e.Configure(0x20))

	var state bool
	var fired int
	require.NoError(t, e.Subscribe(10, func(s bool) { state = s; fired++ }))

	bus.SetReg(0x20, regInputA+1, 0x04)
	e.poll()

	assert.Equal(t, 1, fired)
	assert.True(t, state)
	assert.True(t, e.State(10))
}

func TestPollUnsubscribedChangesIgnored(t *testing.T) {
	bus := i2ctest.NewBus()
	e := newExpander(t, bus)
	require.NoError(t, e.Configure(0x20))

	var fired int
	require.NoError(t, e.Subscribe(1, func(bool) { fired++ }))

	// channel 0 changes, channel 1 does not
	bus.SetReg(0x20, regInputA, 0x01)
	e.poll()

	assert.Zero(t, fired)
	assert.True(t, e.State(0))
}

func TestSubscribeReplaces(t *testing.T) {
	bus := i2ctest.NewBus()
	e := newExpander(t, bus)
	require.NoError(t, e.Configure(0x20))

	var first, second int
	require.NoError(t, e.Subscribe(0, func(bool) { first++ }))
	require.NoError(t, e.Subscribe(0, func(bool) { second++ }))

	bus.SetReg(0x20, regInputA, 0x01)
	e.poll()

	assert.Zero(t, first)
	assert.Equal(t, 1, second)
}

func TestSubscribeRejectsInvalidChannel(t *testing.T) {
	bus := i2ctest.NewBus()
	e := newExpander(t, bus)

	assert.Error(t, e.Subscribe(16, func(bool) {}))
}

func TestPollErrorKeepsSnapshot(t *testing.T) {
	bus := i2ctest.NewBus()
	bus.SetReg(0x20, regInputA, 0x01)

	e := newExpander(t, bus)
	require.NoError(t, e.Configure(0x20))
	require.True(t, e.State(0))

	var fired int
	require.NoError(t, e.Subscribe(0, func(bool) { fired++ }))

	bus.FailNext(errors.New("bus glitch"))
	bus.SetReg(0x20, regInputA, 0x00)
	e.poll()

	// failed read leaves the old state in place, next poll catches up
	assert.Zero(t, fired)
	assert.True(t, e.State(0))

	e.poll()
	assert.Equal(t, 1, fired)
	assert.False(t, e.State(0))
}

func TestStartStop(t *testing.T) {
	bus := i2ctest.NewBus()
	mock := clk.NewMock()
	e := New(bus, DefaultPollInterval, mock, zaptest.NewLogger(t))
	require.NoError(t, e.Configure(0x20))

	edges := make(chan bool, 1)
	require.NoError(t, e.Subscribe(4, func(s bool) { edges <- s }))

	e.Start()
	defer e.Stop()

	// let the poll goroutine install its ticker before advancing the mock
	runtime.Gosched()

	bus.SetReg(0x20, regInputA, 0x10)
	mock.Add(DefaultPollInterval)

	select {
	case s := <-edges:
		assert.True(t, s)
	case <-time.After(time.Second):
		t.Fatal("no edge reported")
	}
}
