package websocket

import (
	"encoding/json"
	"sync"

	"github.com/KevinKickass/OpenFeederCore/internal/feeder"
	"go.uber.org/zap"
)

// FleetSnapshotProvider liefert den aktuellen Zustand aller Feeder, damit
// ein frisch verbundener Client nicht auf die nächste Änderung warten muss
type FleetSnapshotProvider interface {
	FleetSnapshot() []feeder.Event
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *zap.Logger

	// Fleet snapshot provider (optional)
	snapshotProvider FleetSnapshotProvider
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

// SetFleetSnapshotProvider sets the snapshot source for newly connected clients
func (h *Hub) SetFleetSnapshotProvider(provider FleetSnapshotProvider) {
	h.mu.Lock()
	h.snapshotProvider = provider
	h.mu.Unlock()
}

// Run starts the hub's main event loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket Hub started")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("remote_addr", client.conn.RemoteAddr().String()),
				zap.Int("total_clients", total))

			h.sendSnapshot(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("remote_addr", client.conn.RemoteAddr().String()),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message",
					zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
					// Message sent successfully
				default:
					// Client send channel full - unregister slow/dead client
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("remote_addr", client.conn.RemoteAddr().String()))
				}
			}
			h.mu.Unlock()
		}
	}
}

// sendSnapshot schickt dem Client den Stand aller Feeder als Einzelereignisse
func (h *Hub) sendSnapshot(client *Client) {
	h.mu.RLock()
	provider := h.snapshotProvider
	h.mu.RUnlock()
	if provider == nil {
		return
	}

	for _, event := range provider.FleetSnapshot() {
		data, err := json.Marshal(NewFeederStateMessage(event))
		if err != nil {
			h.logger.Error("Failed to marshal snapshot message",
				zap.Error(err))
			return
		}
		select {
		case client.send <- data:
		default:
			return
		}
	}
}

// FeederStateChanged broadcasts a feeder state change to all clients.
// Satisfies the feeder event sink and must not block.
func (h *Hub) FeederStateChanged(event feeder.Event) {
	h.Broadcast(NewFeederStateMessage(event))
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
		// Message queued for broadcast
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
