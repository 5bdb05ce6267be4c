package websocket

import (
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/feeder"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Feeder state change messages
	MessageTypeFeederState MessageType = "feeder_state"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SystemStatusData represents a lifecycle transition of the controller
type SystemStatusData struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewFeederStateMessage wraps a feeder state change for broadcasting
func NewFeederStateMessage(event feeder.Event) Message {
	return NewMessage(MessageTypeFeederState, event)
}

// NewSystemStatusMessage wraps a lifecycle transition for broadcasting
func NewSystemStatusMessage(state, message string) Message {
	return NewMessage(MessageTypeSystemStatus, SystemStatusData{
		State:   state,
		Message: message,
	})
}
