package feeder

import "github.com/google/uuid"

// Event beschreibt eine Zustandsänderung eines Feeders
type Event struct {
	ID        int       `json:"id"`
	UUID      uuid.UUID `json:"uuid"`
	Status    Status    `json:"status"`
	Position  Position  `json:"position"`
	Remaining int       `json:"remaining_mm"`
	Tensioned bool      `json:"tensioned"`
}

// EventSink empfängt Zustandsänderungen, typischerweise der WebSocket-Hub.
// Implementierungen dürfen nicht blockieren, der Sink wird auch aus
// Timer-Fortsetzungen der Feeder gerufen.
type EventSink interface {
	FeederStateChanged(event Event)
}
