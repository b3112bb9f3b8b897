// Package websocket pushes mail notifications to connected UI clients.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/chainmail-net/chainmail/internal/models"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeNewMail           MessageType = "new_mail"
	MessageTypeTransactionNotice MessageType = "transaction_notice"
	MessageTypeError             MessageType = "error"
)

// WSMessage represents a WebSocket notification
type WSMessage struct {
	Type  MessageType `json:"type"`
	Count int         `json:"count,omitempty"`
	Data  any         `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Hub maintains the set of active clients and broadcasts mail
// notifications to all of them.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Broadcast to every connected client
	broadcast chan []byte

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *slog.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client registered", slog.String("client_id", client.id))
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client unregistered", slog.String("client_id", client.id))
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop the notification rather than
					// block the hub.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// NotifyNewMail broadcasts a new-mail count to every client.
func (h *Hub) NotifyNewMail(count int) {
	h.send(WSMessage{Type: MessageTypeNewMail, Count: count})
}

// NotifyTransaction broadcasts a received transaction notice.
func (h *Hub) NotifyTransaction(notice models.TransactionNotice) {
	h.send(WSMessage{Type: MessageTypeTransactionNotice, Data: notice})
}

func (h *Hub) send(msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("encode notification", slog.Any("error", err))
		}
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		if h.logger != nil {
			h.logger.Warn("notification dropped, broadcast queue full")
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
