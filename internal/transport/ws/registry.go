package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vedran77/orderchat/internal/metrics"
	"nhooyr.io/websocket"
)

// TypingClearer drops typing indicators owned by a connection.
type TypingClearer interface {
	ClearConnection(orderID, connID uuid.UUID)
}

// Registry tracks every live connection on this instance.
type Registry struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client // keyed by connection ID

	rooms  *Rooms
	typing TypingClearer
	logger zerolog.Logger
}

func NewRegistry(rooms *Rooms, typing TypingClearer, logger zerolog.Logger) *Registry {
	return &Registry{
		clients: make(map[uuid.UUID]*Client),
		rooms:   rooms,
		typing:  typing,
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	if _, ok := r.clients[c.id]; ok {
		r.mu.Unlock()
		return
	}
	r.clients[c.id] = c
	total := len(r.clients)
	r.mu.Unlock()

	metrics.OpenConnections.Inc()
	c.logger.Info().Int("total", total).Msg("ws: connected")
}

// Unregister removes c from every room it joined, clears its typing
// indicators and closes it. Calling it again is a no-op.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	if _, ok := r.clients[c.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c.id)
	total := len(r.clients)
	r.mu.Unlock()

	for _, orderID := range c.joinedOrders() {
		r.rooms.Leave(c, orderID)
		r.typing.ClearConnection(orderID, c.id)
	}
	c.close(websocket.StatusNormalClosure, "")

	metrics.OpenConnections.Dec()
	c.logger.Info().Int("total", total).Msg("ws: disconnected")
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll asks every connection to close, used on shutdown. The read side of
// each connection unregisters it.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		c.close(websocket.StatusGoingAway, "server shutting down")
	}
}
