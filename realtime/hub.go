// Package realtime pushes location events to connected websocket clients.
//
// Delivery is best-effort fan-out to every connected client: there is no
// replay, no per-client filtering and no acknowledgement. A client whose
// send buffer is full is dropped rather than allowed to stall the hub.
package realtime

import (
	"context"
	"errors"
	"sync"

	"go-tracker/logging"
	"go-tracker/metrics"
	"go-tracker/models"

	"github.com/goccy/go-json"
)

const (
	MessageTypeLocationUpdate = models.EventLocationUpdate
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
)

// ErrBroadcastDropped is returned when the hub queue is full.
var ErrBroadcastDropped = errors.New("broadcast queue full")

// Message is the envelope for everything sent over the socket.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// RunWithContext serves registrations and broadcasts until ctx is cancelled,
// then closes every client.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n := h.closeAllClients()
			h.stopOnce.Do(func() { close(h.done) })
			logging.Info().Str("component", "websocket-hub").Int("clients_closed", n).Msg("websocket hub stopped")
			return ctx.Err()

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebsocketClients.Inc()
			logging.Debug().Uint64("client_id", client.id).Int("total_clients", total).Msg("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.WebsocketClients.Dec()
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug().Uint64("client_id", client.id).Int("total_clients", total).Msg("websocket client disconnected")

		case payload := <-h.broadcast:
			h.broadcastToClients(payload)
		}
	}
}

func (h *Hub) broadcastToClients(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- payload:
			metrics.Broadcasts.WithLabelValues("sent").Inc()
		default:
			// Slow consumer; drop it so the hub never blocks.
			close(client.send)
			delete(h.clients, client)
			metrics.WebsocketClients.Dec()
			metrics.Broadcasts.WithLabelValues("dropped").Inc()
			logging.Warn().Uint64("client_id", client.id).Msg("dropping slow websocket client")
		}
	}
}

func (h *Hub) closeAllClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
		metrics.WebsocketClients.Dec()
	}
	return n
}

// Broadcast queues msg for every connected client. It never blocks; when the
// queue is full the message is dropped and false is returned.
func (h *Hub) Broadcast(msg Message) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		logging.Error().Err(err).Str("message_type", msg.Type).Msg("failed to encode broadcast")
		return false
	}
	select {
	case h.broadcast <- payload:
		return true
	default:
		metrics.Broadcasts.WithLabelValues("dropped").Inc()
		logging.Warn().Str("message_type", msg.Type).Msg("broadcast channel full, dropping message")
		return false
	}
}

// PublishLocation delivers ev to this instance's clients.
func (h *Hub) PublishLocation(_ context.Context, ev models.LocationUpdate) error {
	if !h.Broadcast(Message{Type: MessageTypeLocationUpdate, Data: ev}) {
		return ErrBroadcastDropped
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds c to the hub. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
