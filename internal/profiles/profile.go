// Package profiles lädt benannte Kalibrierprofile für Feeder-Servos.
// Ein Profil liefert die Default-Konfiguration beim ersten Anlegen eines
// Feeders; danach gilt die persistierte Konfiguration des Feeders.
package profiles

// Profile beschreibt einen Servo/Mechanik-Satz (Winkel, Pulsbereich, Timing)
type Profile struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	FullAngle    uint8 `json:"full_angle"`
	HalfAngle    uint8 `json:"half_angle"`
	RetractAngle uint8 `json:"retract_angle"`

	SettleTimeMs       uint16 `json:"settle_time_ms"`
	MovementIntervalMs uint16 `json:"movement_interval_ms,omitempty"`
	MovementDegrees    uint8  `json:"movement_degrees,omitempty"`

	MinPulse uint16 `json:"min_pulse"`
	MaxPulse uint16 `json:"max_pulse"`

	FeedLengthMm   uint8 `json:"feed_length_mm,omitempty"`
	IgnoreFeedback bool  `json:"ignore_feedback,omitempty"`
}
