package feeder

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/config"
	"github.com/KevinKickass/OpenFeederCore/internal/profiles"
)

// AdvanceLengthMm ist der mechanisch fest vorgegebene Vorschub eines vollen
// Hebelzyklus in Millimetern. Ein halber Zyklus schiebt die Hälfte.
const AdvanceLengthMm = 4

// Werksdefaults, greifen wenn kein Blob und kein Profil vorhanden ist
const (
	DefaultFullAngle    = 90
	DefaultRetractAngle = 15
	DefaultSettleTimeMs = 240
	DefaultMinPulse     = 150
	DefaultMaxPulse     = 600
)

// Blobgrösse: Nutzfelder plus Reserve für künftige Felder. Ein Blob mit
// abweichender Grösse gilt als korrupt und wird mit Defaults neu angelegt.
const (
	configReservedBytes = 128
	configBlobSize      = 14 + configReservedBytes
)

// Config ist die persistierte Kalibrierung eines einzelnen Feeders
type Config struct {
	FeedLength       uint8  // mm, muss gerade sein
	SettleTime       uint16 // ms
	MovementInterval uint16 // ms, 0 = direkt springen
	MovementDegrees  uint8  // Grad pro Schritt, 0 = direkt springen
	FullAngle        uint8
	HalfAngle        uint8
	RetractAngle     uint8
	MinPulse         uint16
	MaxPulse         uint16
	IgnoreFeedback   bool
}

// DefaultConfig liefert die Werkskalibrierung
func DefaultConfig() Config {
	return Config{
		FeedLength:   AdvanceLengthMm,
		SettleTime:   DefaultSettleTimeMs,
		FullAngle:    DefaultFullAngle,
		HalfAngle:    DefaultFullAngle / 2,
		RetractAngle: DefaultRetractAngle,
		MinPulse:     DefaultMinPulse,
		MaxPulse:     DefaultMaxPulse,
	}
}

// ConfigFromSettings baut die Startkalibrierung aus der Serverkonfiguration.
// Eine ungerade Vorschublänge fällt auf den mechanischen Hub zurück.
func ConfigFromSettings(cfg config.FeederConfig) Config {
	out := Config{
		FeedLength:   cfg.FeedLength,
		SettleTime:   uint16(cfg.SettleTime / time.Millisecond),
		FullAngle:    cfg.FullAngle,
		HalfAngle:    cfg.HalfAngle,
		RetractAngle: cfg.RetractAngle,
		MinPulse:     cfg.MinPulse,
		MaxPulse:     cfg.MaxPulse,
	}
	if out.FeedLength == 0 || out.FeedLength%2 != 0 {
		out.FeedLength = AdvanceLengthMm
	}
	return out
}

// ConfigFromProfile baut die Startkalibrierung aus einem geladenen Profil
func ConfigFromProfile(p *profiles.Profile) Config {
	cfg := Config{
		FeedLength:       p.FeedLengthMm,
		SettleTime:       p.SettleTimeMs,
		MovementInterval: p.MovementIntervalMs,
		MovementDegrees:  p.MovementDegrees,
		FullAngle:        p.FullAngle,
		HalfAngle:        p.HalfAngle,
		RetractAngle:     p.RetractAngle,
		MinPulse:         p.MinPulse,
		MaxPulse:         p.MaxPulse,
		IgnoreFeedback:   p.IgnoreFeedback,
	}
	if cfg.FeedLength == 0 {
		cfg.FeedLength = AdvanceLengthMm
	}
	return cfg
}

// MarshalBinary kodiert die Konfiguration als Blob fester Grösse,
// little-endian, Reserve genullt.
func (c Config) MarshalBinary() ([]byte, error) {
	buf := make([]byte, configBlobSize)

	buf[0] = c.FeedLength
	binary.LittleEndian.PutUint16(buf[1:3], c.SettleTime)
	binary.LittleEndian.PutUint16(buf[3:5], c.MovementInterval)
	buf[5] = c.MovementDegrees
	buf[6] = c.FullAngle
	buf[7] = c.HalfAngle
	buf[8] = c.RetractAngle
	binary.LittleEndian.PutUint16(buf[9:11], c.MinPulse)
	binary.LittleEndian.PutUint16(buf[11:13], c.MaxPulse)
	if c.IgnoreFeedback {
		buf[13] = 1
	}

	return buf, nil
}

// UnmarshalBinary dekodiert den Blob, abweichende Grösse ist ein Fehler
func (c *Config) UnmarshalBinary(data []byte) error {
	if len(data) != configBlobSize {
		return fmt.Errorf("config blob has %d bytes, expected %d", len(data), configBlobSize)
	}

	c.FeedLength = data[0]
	c.SettleTime = binary.LittleEndian.Uint16(data[1:3])
	c.MovementInterval = binary.LittleEndian.Uint16(data[3:5])
	c.MovementDegrees = data[5]
	c.FullAngle = data[6]
	c.HalfAngle = data[7]
	c.RetractAngle = data[8]
	c.MinPulse = binary.LittleEndian.Uint16(data[9:11])
	c.MaxPulse = binary.LittleEndian.Uint16(data[11:13])
	c.IgnoreFeedback = data[13] == 1

	return nil
}

// Changes trägt die optionalen Felder eines M613, nil bedeutet nicht gesetzt
type Changes struct {
	FullAngle        *uint8
	HalfAngle        *uint8
	RetractAngle     *uint8
	FeedLength       *uint8
	SettleTime       *uint16
	MovementInterval *uint16
	MovementDegrees  *uint8
	MinPulse         *uint16
	MaxPulse         *uint16
	IgnoreFeedback   *bool
}

// apply übernimmt alle gesetzten Felder in die Konfiguration. Eine ungerade
// Vorschublänge wird verworfen, die übrigen Felder gelten trotzdem.
// Liefert true wenn mindestens ein Feld übernommen wurde.
func (c *Config) apply(ch Changes) bool {
	changed := false

	if ch.FullAngle != nil {
		c.FullAngle = *ch.FullAngle
		changed = true
	}
	if ch.HalfAngle != nil {
		c.HalfAngle = *ch.HalfAngle
		changed = true
	}
	if ch.RetractAngle != nil {
		c.RetractAngle = *ch.RetractAngle
		changed = true
	}
	if ch.FeedLength != nil && *ch.FeedLength%2 == 0 {
		c.FeedLength = *ch.FeedLength
		changed = true
	}
	if ch.SettleTime != nil {
		c.SettleTime = *ch.SettleTime
		changed = true
	}
	if ch.MovementInterval != nil {
		c.MovementInterval = *ch.MovementInterval
		changed = true
	}
	if ch.MovementDegrees != nil {
		c.MovementDegrees = *ch.MovementDegrees
		changed = true
	}
	if ch.MinPulse != nil {
		c.MinPulse = *ch.MinPulse
		changed = true
	}
	if ch.MaxPulse != nil {
		c.MaxPulse = *ch.MaxPulse
		changed = true
	}
	if ch.IgnoreFeedback != nil {
		c.IgnoreFeedback = *ch.IgnoreFeedback
		changed = true
	}

	return changed
}
