package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vedran77/orderchat/internal/domain"
	"github.com/vedran77/orderchat/internal/service"
	"nhooyr.io/websocket"
)

// Verifier turns a bearer token into a verified identity.
type Verifier interface {
	Verify(token string) (domain.Identity, error)
}

type GatewayOptions struct {
	SendBufferSize int
	// OriginPatterns are passed to websocket.Accept; empty allows any origin.
	OriginPatterns []string
}

// Gateway upgrades authenticated requests to WebSocket connections and
// routes their events to the chat components.
type Gateway struct {
	verifier Verifier
	chat     *service.ChatService
	typing   *service.TypingCoordinator
	rooms    *Rooms
	registry *Registry
	opts     GatewayOptions
	logger   zerolog.Logger
}

func NewGateway(
	verifier Verifier,
	chat *service.ChatService,
	typing *service.TypingCoordinator,
	rooms *Rooms,
	registry *Registry,
	opts GatewayOptions,
	logger zerolog.Logger,
) *Gateway {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 256
	}
	return &Gateway{
		verifier: verifier,
		chat:     chat,
		typing:   typing,
		rooms:    rooms,
		registry: registry,
		opts:     opts,
		logger:   logger.With().Str("component", "ws").Logger(),
	}
}

// ServeHTTP authenticates the request and upgrades it to WebSocket.
// Browsers cannot set headers on the upgrade, so ?token=xxx is accepted
// alongside the Authorization header.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}

	identity, err := g.verifier.Verify(token)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"Missing or invalid token"}}`))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.opts.OriginPatterns,
		InsecureSkipVerify: len(g.opts.OriginPatterns) == 0,
	})
	if err != nil {
		g.logger.Warn().Err(err).Msg("ws: accept error")
		return
	}

	client := NewClient(conn, identity, g.opts.SendBufferSize, g.logger)
	g.registry.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go client.WritePump(cancel)
	client.ReadPump(ctx, g.handleEvent)

	g.registry.Unregister(client)
}

// Shutdown closes every open connection.
func (g *Gateway) Shutdown() {
	g.registry.CloseAll()
}

// handleEvent routes an incoming client event.
func (g *Gateway) handleEvent(ctx context.Context, c *Client, event *Event) {
	switch event.Type {
	case EventTypeChatJoin:
		var p JoinPayload
		if !decodePayload(c, event, &p) {
			return
		}
		g.joinOrder(ctx, c, orderOf(p.OrderID, event), p.AfterSeq, event.Ref)

	case EventTypeChatLeave:
		var p LeavePayload
		if !decodePayload(c, event, &p) {
			return
		}
		g.leaveOrder(c, orderOf(p.OrderID, event), event.Ref)

	case EventTypeMessageSend:
		var p MessageSendPayload
		if !decodePayload(c, event, &p) {
			return
		}
		g.sendMessage(ctx, c, orderOf(p.OrderID, event), p, event.Ref)

	case EventTypeTypingSet:
		var p TypingSetPayload
		if !decodePayload(c, event, &p) {
			return
		}
		orderID := orderOf(p.OrderID, event)
		if _, err := g.chat.Authorize(ctx, orderID, c.identity); err != nil {
			g.replyError(c, event.Ref, err)
			return
		}
		if !g.rooms.IsMember(orderID, c.id) {
			c.sendError(event.Ref, ErrorPayload{Code: "NOT_JOINED", Message: "Join the order chat first"})
			return
		}
		g.typing.SetTyping(orderID, c.identity.UserID, c.id, p.IsTyping)

	case EventTypeMessageRead:
		var p MessageReadPayload
		if !decodePayload(c, event, &p) {
			return
		}
		if _, err := g.chat.MarkRead(ctx, p.MessageID, c.identity); err != nil {
			g.replyError(c, event.Ref, err)
		}

	case EventTypePing:
		c.sendEvent(EventTypePong, nil, event.Ref, nil)

	default:
		c.sendError(event.Ref, ErrorPayload{Code: "UNKNOWN_EVENT", Message: "unknown event type: " + event.Type})
	}
}

// joinOrder subscribes c to the order room and reconciles it: history after
// afterSeq is replayed first, then live events buffered meanwhile are flushed
// without the messages the replay already covered.
func (g *Gateway) joinOrder(ctx context.Context, c *Client, orderID uuid.UUID, afterSeq int64, ref string) {
	role, created, err := g.rooms.Join(ctx, c, orderID)
	if err != nil {
		g.replyError(c, ref, err)
		return
	}
	if !created {
		c.sendEvent(EventTypeChatJoined, &orderID, ref, JoinedPayload{OrderID: orderID, Role: role})
		return
	}

	history, err := g.chat.GetHistory(ctx, orderID, c.identity, afterSeq)
	if err != nil {
		g.rooms.Leave(c, orderID)
		g.replyError(c, ref, err)
		return
	}

	lastSeq := max(afterSeq, 0)
	if n := len(history); n > 0 {
		lastSeq = history[n-1].Seq
	}
	c.sendEvent(EventTypeChatHistory, &orderID, ref, HistoryPayload{
		OrderID:  orderID,
		Messages: history,
		LastSeq:  lastSeq,
	})

	if _, err := g.chat.MarkAllRead(ctx, orderID, c.identity); err != nil {
		c.logger.Warn().Err(err).Str("order_id", orderID.String()).Msg("ws: marking history read failed")
	}

	c.sendEvent(EventTypeChatJoined, &orderID, ref, JoinedPayload{OrderID: orderID, Role: role})
	g.rooms.MarkLive(orderID, c.id, lastSeq)
}

func (g *Gateway) leaveOrder(c *Client, orderID uuid.UUID, ref string) {
	if g.rooms.Leave(c, orderID) {
		g.typing.ClearConnection(orderID, c.id)
	}
	c.sendEvent(EventTypeChatLeft, &orderID, ref, LeftPayload{OrderID: orderID})
}

func (g *Gateway) sendMessage(ctx context.Context, c *Client, orderID uuid.UUID, p MessageSendPayload, ref string) {
	msg, err := g.chat.Send(ctx, service.SendInput{
		OrderID: orderID,
		Sender:  c.identity,
		Body:    p.Body,
		Origin:  c.id,
	})
	if err != nil {
		g.replyError(c, ref, err)
		return
	}

	// A sent message implies the sender stopped typing.
	if g.rooms.IsMember(orderID, c.id) {
		g.typing.SetTyping(orderID, c.identity.UserID, c.id, false)
	}
	c.sendEvent(EventTypeMessageSent, &orderID, ref, MessageSentPayload{Nonce: p.Nonce, Message: *msg})
}

func (g *Gateway) replyError(c *Client, ref string, err error) {
	if service.IsClientError(err) {
		c.logger.Debug().Err(err).Msg("ws: request rejected")
	} else {
		c.logger.Error().Err(err).Msg("ws: request failed")
	}
	c.sendError(ref, errorPayload(err))
}

func errorPayload(err error) ErrorPayload {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return ErrorPayload{Code: "VALIDATION_ERROR", Message: "Invalid message", Fields: verr.Fields}
	case errors.Is(err, domain.ErrUnauthenticated):
		return ErrorPayload{Code: "UNAUTHORIZED", Message: "Missing or invalid token"}
	case errors.Is(err, domain.ErrForbidden):
		return ErrorPayload{Code: "FORBIDDEN", Message: "You are not a participant of this order"}
	case errors.Is(err, domain.ErrOrderNotFound):
		return ErrorPayload{Code: "NOT_FOUND", Message: "Order not found"}
	case errors.Is(err, domain.ErrMessageNotFound):
		return ErrorPayload{Code: "NOT_FOUND", Message: "Message not found"}
	case errors.Is(err, domain.ErrPersistence):
		return ErrorPayload{Code: "STORE_UNAVAILABLE", Message: "Message could not be saved, try again"}
	default:
		return ErrorPayload{Code: "INTERNAL", Message: "Something went wrong"}
	}
}

func decodePayload(c *Client, event *Event, dst any) bool {
	if len(event.Payload) == 0 {
		event.Payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(event.Payload, dst); err != nil {
		c.sendError(event.Ref, ErrorPayload{
			Code:    "INVALID_PAYLOAD",
			Message: "invalid " + strings.ReplaceAll(event.Type, ".", "_") + " payload",
		})
		return false
	}
	return true
}

// orderOf prefers the payload's order ID and falls back to the envelope's.
func orderOf(fromPayload uuid.UUID, event *Event) uuid.UUID {
	if fromPayload == uuid.Nil && event.OrderID != nil {
		return *event.OrderID
	}
	return fromPayload
}
