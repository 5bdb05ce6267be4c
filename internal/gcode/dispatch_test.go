package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	return NewDispatcher("0.4.2", zaptest.NewLogger(t))
}

func TestDispatcherRendersReplies(t *testing.T) {
	d := newTestDispatcher(t)
	d.RegisterCommand("M1", func(args Args) Reply { return OK("") })
	d.RegisterCommand("M2", func(args Args) Reply { return OK("some text") })
	d.RegisterCommand("M3", func(args Args) Reply { return Error("boom") })

	reply, ok := d.HandleLine("M1")
	require.True(t, ok)
	assert.Equal(t, "ok", reply, "leerer Text ergibt kein Leerzeichen nach ok")

	reply, ok = d.HandleLine("M2")
	require.True(t, ok)
	assert.Equal(t, "ok some text", reply)

	reply, ok = d.HandleLine("M3")
	require.True(t, ok)
	assert.Equal(t, "error boom", reply)
}

func TestDispatcherPassesArguments(t *testing.T) {
	d := newTestDispatcher(t)

	var got Args
	d.RegisterCommand("M5", func(args Args) Reply {
		got = args
		return OK("")
	})

	_, ok := d.HandleLine("M5 N3 A90")
	require.True(t, ok)
	require.Equal(t, Args{"N3", "A90"}, got)

	index, ok := got.Int("N")
	require.True(t, ok)
	assert.Equal(t, 3, index)
}

func TestDispatcherStripsComments(t *testing.T) {
	d := newTestDispatcher(t)
	d.RegisterCommand("M1", func(args Args) Reply { return OK("") })

	reply, ok := d.HandleLine("M1 ; Kommentar hinter dem Kommando")
	require.True(t, ok)
	assert.Equal(t, "ok", reply)

	_, ok = d.HandleLine("; reine Kommentarzeile")
	assert.False(t, ok)
	_, ok = d.HandleLine("")
	assert.False(t, ok)
	_, ok = d.HandleLine("   \t  ")
	assert.False(t, ok)
}

func TestDispatcherAcknowledgesMachineCommands(t *testing.T) {
	d := newTestDispatcher(t)

	// generische Sender schicken Setup-Kommandos, die der Feeder-Controller
	// nicht kennt, aber nicht mit einem Fehler quittieren darf
	for _, raw := range []string{"G0 X10", "G28", "G90", "M82", "M204 S500", "M400"} {
		reply, ok := d.HandleLine(raw)
		require.True(t, ok, "line %q", raw)
		assert.Equal(t, "ok ; not implemented", reply, "line %q", raw)
	}
}

func TestDispatcherFirmwareBanner(t *testing.T) {
	d := newTestDispatcher(t)

	reply, ok := d.HandleLine("M115")
	require.True(t, ok)
	assert.Equal(t, "ok FIRMWARE_NAME:OpenFeederCore (0.4.2)", reply)
}

func TestDispatcherRejectsUnknownCommands(t *testing.T) {
	d := newTestDispatcher(t)
	d.RegisterCommand("M612", func(args Args) Reply { return OK("") })

	reply, ok := d.HandleLine("M999")
	require.True(t, ok)
	assert.Equal(t, "error invalid command token: M999", reply)

	// Kommandonamen sind case-sensitiv
	reply, ok = d.HandleLine("m612")
	require.True(t, ok)
	assert.Equal(t, "error invalid command token: m612", reply)

	reply, ok = d.HandleLine("X1 Y2")
	require.True(t, ok)
	assert.Equal(t, "error invalid command token: X1", reply)
}

func TestDispatcherReplacesHandler(t *testing.T) {
	d := newTestDispatcher(t)
	d.RegisterCommand("M1", func(args Args) Reply { return OK("first") })
	d.RegisterCommand("M1", func(args Args) Reply { return OK("second") })

	reply, ok := d.HandleLine("M1")
	require.True(t, ok)
	assert.Equal(t, "ok second", reply)
}
