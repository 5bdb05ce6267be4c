package gcode

import (
	"math"
	"strconv"
	"strings"
)

// Args sind die Token einer Kommandozeile nach dem Kommandonamen, jeweils
// ein Buchstabe direkt gefolgt vom Wert, etwa "N3" oder "A90".
type Args []string

// Get sucht das Argument mit dem gegebenen Buchstaben und liefert den
// Wertteil. Der Buchstabe wird ohne Beachtung der Grossschreibung verglichen.
func (a Args) Get(letter string) (string, bool) {
	for _, arg := range a {
		if len(arg) < len(letter) {
			continue
		}
		if strings.EqualFold(arg[:len(letter)], letter) {
			return arg[len(letter):], true
		}
	}
	return "", false
}

// Int liefert das Argument als int. Ein fehlender oder nicht numerischer
// Wert zählt als nicht vorhanden.
func (a Args) Int(letter string) (int, bool) {
	raw, ok := a.Get(letter)
	if !ok {
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}

// Uint8 liefert das Argument als uint8, Werte ausserhalb des Bereichs
// zählen als nicht vorhanden.
func (a Args) Uint8(letter string) (uint8, bool) {
	value, ok := a.Int(letter)
	if !ok || value < 0 || value > math.MaxUint8 {
		return 0, false
	}
	return uint8(value), true
}

// Uint16 liefert das Argument als uint16, Werte ausserhalb des Bereichs
// zählen als nicht vorhanden.
func (a Args) Uint16(letter string) (uint16, bool) {
	value, ok := a.Int(letter)
	if !ok || value < 0 || value > math.MaxUint16 {
		return 0, false
	}
	return uint16(value), true
}

// Bool liefert das Argument als Flag, jeder Wert ungleich 0 zählt als true
func (a Args) Bool(letter string) (bool, bool) {
	value, ok := a.Int(letter)
	if !ok {
		return false, false
	}
	return value != 0, true
}
