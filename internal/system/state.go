package system

import (
	"encoding/json"
	"fmt"
)

// SystemState ist der Lebenszyklus-Zustand des Controllers
type SystemState int

const (
	StateInitializing SystemState = iota
	StateRunning
	StateStopping
	StateStopped
	StateError
)

func (s SystemState) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON serialisiert den Zustand als lesbaren Namen
func (s SystemState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// SystemStatus ist die Statusantwort der Monitoring-API
type SystemStatus struct {
	State        SystemState `json:"state"`
	Version      string      `json:"version"`
	UptimeSec    int64       `json:"uptime_sec"`
	Feeders      int         `json:"feeders"`
	Drivers      int         `json:"drivers"`
	Expanders    int         `json:"expanders"`
	GCodeClients int         `json:"gcode_clients"`
	WSClients    int         `json:"ws_clients"`
	Timestamp    int64       `json:"timestamp"`
	Error        string      `json:"error,omitempty"`
}

// ValidateTransition prüft ob ein Zustandswechsel erlaubt ist
func ValidateTransition(from, to SystemState) error {
	validTransitions := map[SystemState][]SystemState{
		StateInitializing: {StateRunning, StateError},
		StateRunning:      {StateStopping, StateError},
		StateStopping:     {StateStopped, StateError},
		StateStopped:      {StateInitializing},
		StateError:        {StateStopping, StateStopped},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current state: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition: %s -> %s", from, to)
}
