package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArgsGet(t *testing.T) {
	args := Args{"N3", "a90", "Z"}

	value, ok := args.Get("N")
	assert.True(t, ok)
	assert.Equal(t, "3", value)

	// Buchstaben werden ohne Beachtung der Grossschreibung gefunden
	value, ok = args.Get("A")
	assert.True(t, ok)
	assert.Equal(t, "90", value)

	// ein nackter Buchstabe ist vorhanden, trägt aber keinen Wert
	value, ok = args.Get("Z")
	assert.True(t, ok)
	assert.Equal(t, "", value)

	_, ok = args.Get("Q")
	assert.False(t, ok)
}

func TestArgsInt(t *testing.T) {
	args := Args{"N3", "D-2", "Fx", "Z"}

	value, ok := args.Int("N")
	assert.True(t, ok)
	assert.Equal(t, 3, value)

	value, ok = args.Int("D")
	assert.True(t, ok)
	assert.Equal(t, -2, value)

	_, ok = args.Int("F")
	assert.False(t, ok, "nicht numerische Werte zählen als nicht vorhanden")
	_, ok = args.Int("Z")
	assert.False(t, ok, "leere Werte zählen als nicht vorhanden")
	_, ok = args.Int("Q")
	assert.False(t, ok)
}

func TestArgsUint8(t *testing.T) {
	args := Args{"A90", "B256", "C-1"}

	value, ok := args.Uint8("A")
	assert.True(t, ok)
	assert.Equal(t, uint8(90), value)

	_, ok = args.Uint8("B")
	assert.False(t, ok, "Werte über 255 fallen raus")
	_, ok = args.Uint8("C")
	assert.False(t, ok, "negative Werte fallen raus")
}

func TestArgsUint16(t *testing.T) {
	args := Args{"U65535", "V70000"}

	value, ok := args.Uint16("U")
	assert.True(t, ok)
	assert.Equal(t, uint16(65535), value)

	_, ok = args.Uint16("V")
	assert.False(t, ok)
}

func TestArgsBool(t *testing.T) {
	args := Args{"Z1", "Y0", "X5"}

	value, ok := args.Bool("Z")
	assert.True(t, ok)
	assert.True(t, value)

	value, ok = args.Bool("Y")
	assert.True(t, ok)
	assert.False(t, value)

	value, ok = args.Bool("X")
	assert.True(t, ok)
	assert.True(t, value, "jeder Wert ungleich 0 zählt als true")

	_, ok = args.Bool("Q")
	assert.False(t, ok)
}
