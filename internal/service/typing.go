package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vedran77/orderchat/internal/metrics"
)

type typingKey struct {
	orderID       uuid.UUID
	participantID uuid.UUID
}

type typingEntry struct {
	owner uuid.UUID // connection that last refreshed the indicator
	timer *time.Timer
	gen   uint64
}

// TypingCoordinator tracks who is composing a message per order. State is
// never persisted and every indicator expires on its own.
type TypingCoordinator struct {
	mu       sync.Mutex
	entries  map[typingKey]*typingEntry
	window   time.Duration
	notifier Notifier // called with mu held; must not block or call back in
	logger   zerolog.Logger
}

func NewTypingCoordinator(window time.Duration, notifier Notifier, logger zerolog.Logger) *TypingCoordinator {
	return &TypingCoordinator{
		entries:  make(map[typingKey]*typingEntry),
		window:   window,
		notifier: notifier,
		logger:   logger.With().Str("component", "typing").Logger(),
	}
}

// SetTyping records a typing change from connID. Only transitions are
// broadcast; a repeated true just pushes the expiry back. Broadcasts happen
// under the lock so they reach the room in the order the state changed.
func (c *TypingCoordinator) SetTyping(orderID, participantID, connID uuid.UUID, isTyping bool) {
	key := typingKey{orderID: orderID, participantID: participantID}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, active := c.entries[key]
	switch {
	case isTyping && active:
		e.gen++
		e.owner = connID
		e.timer.Stop()
		e.timer = c.expireAfter(key, e.gen)
		return

	case isTyping:
		e = &typingEntry{owner: connID}
		e.timer = c.expireAfter(key, e.gen)
		c.entries[key] = e

	case active:
		e.timer.Stop()
		delete(c.entries, key)

	default:
		return
	}

	c.notifier.NotifyTyping(orderID, participantID, isTyping)
}

// ClearConnection drops every indicator in the order that connID owns.
func (c *TypingCoordinator) ClearConnection(orderID, connID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if key.orderID == orderID && e.owner == connID {
			e.timer.Stop()
			delete(c.entries, key)
			c.notifier.NotifyTyping(orderID, key.participantID, false)
		}
	}
}

// IsTyping reports the current indicator state.
func (c *TypingCoordinator) IsTyping(orderID, participantID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[typingKey{orderID: orderID, participantID: participantID}]
	return ok
}

// Stop cancels all pending expiry timers without broadcasting.
func (c *TypingCoordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		e.timer.Stop()
		delete(c.entries, key)
	}
}

func (c *TypingCoordinator) expireAfter(key typingKey, gen uint64) *time.Timer {
	return time.AfterFunc(c.window, func() { c.expire(key, gen) })
}

func (c *TypingCoordinator) expire(key typingKey, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.gen != gen {
		return
	}
	delete(c.entries, key)

	metrics.TypingExpirations.Inc()
	c.logger.Debug().
		Str("order_id", key.orderID.String()).
		Str("participant_id", key.participantID.String()).
		Msg("typing indicator expired")
	c.notifier.NotifyTyping(key.orderID, key.participantID, false)
}
