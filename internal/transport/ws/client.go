package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vedran77/orderchat/internal/domain"
	"github.com/vedran77/orderchat/internal/metrics"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 8192
)

// Client represents a single WebSocket connection of a verified participant.
type Client struct {
	id       uuid.UUID
	identity domain.Identity
	conn     *websocket.Conn
	logger   zerolog.Logger

	// joined tracks the order rooms this connection is a member of.
	joined map[uuid.UUID]struct{}
	mu     sync.Mutex

	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closeCode   websocket.StatusCode
	closeReason string
}

func NewClient(conn *websocket.Conn, identity domain.Identity, sendBuffer int, logger zerolog.Logger) *Client {
	id := uuid.New()
	return &Client{
		id:       id,
		identity: identity,
		conn:     conn,
		logger: logger.With().
			Str("conn_id", id.String()).
			Str("user_id", identity.UserID.String()).
			Logger(),
		joined: make(map[uuid.UUID]struct{}),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) addOrder(orderID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined[orderID] = struct{}{}
}

func (c *Client) removeOrder(orderID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.joined, orderID)
}

func (c *Client) joinedOrders() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	orders := make([]uuid.UUID, 0, len(c.joined))
	for id := range c.joined {
		orders = append(orders, id)
	}
	return orders
}

// enqueue queues a frame without blocking. A full queue means the peer
// cannot keep up, so the connection is closed.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		metrics.DeliveryDrops.WithLabelValues("closed").Inc()
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		metrics.DeliveryDrops.WithLabelValues("overflow").Inc()
		c.logger.Warn().Msg("send buffer full, disconnecting client")
		c.close(websocket.StatusPolicyViolation, "send buffer overflow")
		return false
	}
}

// close signals the write pump to close the connection. Safe to call many times.
func (c *Client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// ReadPump reads events from the WebSocket and hands them to handle until the
// connection fails or is closed.
func (c *Client) ReadPump(ctx context.Context, handle func(context.Context, *Client, *Event)) {
	c.conn.SetReadLimit(maxMessageSize)

	for {
		var event Event
		err := wsjson.Read(ctx, c.conn, &event)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
				c.logger.Debug().Msg("ws: client disconnected")
			default:
				c.logger.Debug().Err(err).Msg("ws: read error")
			}
			return
		}

		handle(ctx, c, &event)
	}
}

// WritePump writes frames from the send queue to the WebSocket and keeps the
// connection alive with pings. cancel is called once the pump exits so the
// read side unblocks too.
func (c *Client) WritePump(cancel context.CancelFunc) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		code, reason := websocket.StatusNormalClosure, ""
		select {
		case <-c.done:
			code, reason = c.closeCode, c.closeReason
		default:
		}
		c.conn.Close(code, reason)
		cancel()
	}()

	for {
		select {
		case message := <-c.send:
			ctx, cancelWrite := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancelWrite()
			if err != nil {
				c.logger.Debug().Err(err).Msg("ws: write error")
				return
			}

		case <-ticker.C:
			ctx, cancelPing := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancelPing()
			if err != nil {
				c.logger.Debug().Err(err).Msg("ws: ping error")
				return
			}

		case <-c.done:
			return
		}
	}
}

// sendEvent queues a direct reply to this connection.
func (c *Client) sendEvent(eventType string, orderID *uuid.UUID, ref string, payload any) {
	data, err := encodeEvent(eventType, orderID, ref, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event", eventType).Msg("ws: marshal error")
		return
	}
	c.enqueue(data)
}

func (c *Client) sendError(ref string, p ErrorPayload) {
	c.sendEvent(EventTypeError, nil, ref, p)
}
