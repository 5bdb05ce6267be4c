package feeder

// Status ist der Betriebszustand eines Feeders
type Status string

const (
	StatusDisabled Status = "disabled"
	StatusIdle     Status = "idle"
	StatusMoving   Status = "moving"
)

// Code liefert den numerischen Statuscode für die M612 Antwort
func (s Status) Code() int {
	switch s {
	case StatusIdle:
		return 1
	case StatusMoving:
		return 2
	default:
		return 0
	}
}

// Position ist die mechanische Raststellung des Vorschubhebels
type Position string

const (
	PositionUnknown       Position = "unknown"
	PositionFullyAdvanced Position = "fully_advanced"
	PositionHalfAdvanced  Position = "half_advanced"
	PositionRetracted     Position = "retracted"
)

// Code liefert den numerischen Positionscode für die M612 Antwort
func (p Position) Code() int {
	switch p {
	case PositionFullyAdvanced:
		return 1
	case PositionHalfAdvanced:
		return 2
	case PositionRetracted:
		return 3
	default:
		return 0
	}
}
