package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/orderchat/internal/domain"
)

// Event types - Client → Server
const (
	EventTypeChatJoin    = "chat.join"
	EventTypeChatLeave   = "chat.leave"
	EventTypeMessageSend = "message.send"
	EventTypeTypingSet   = "typing.set"
	EventTypeMessageRead = "message.read"
	EventTypePing        = "ping"
)

// Event types - Server → Client
const (
	EventTypeChatJoined      = "chat.joined"
	EventTypeChatHistory     = "chat.history"
	EventTypeChatLeft        = "chat.left"
	EventTypeMessageReceived = "message.received"
	EventTypeMessageSent     = "message.sent"
	EventTypeTypingChanged   = "typing.changed"
	EventTypeMessageReadAck  = "message.read_ack"
	EventTypePong            = "pong"
	EventTypeError           = "error"
)

// Event is the base envelope for all WebSocket messages. Ref is echoed back
// on the direct reply to a client request.
type Event struct {
	Type      string          `json:"type"`
	OrderID   *uuid.UUID      `json:"order_id,omitempty"`
	Ref       string          `json:"ref,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

type JoinPayload struct {
	OrderID  uuid.UUID `json:"order_id"`
	AfterSeq int64     `json:"after_seq,omitempty"`
}

type LeavePayload struct {
	OrderID uuid.UUID `json:"order_id"`
}

type MessageSendPayload struct {
	OrderID uuid.UUID `json:"order_id"`
	Body    string    `json:"body"`
	Nonce   string    `json:"nonce,omitempty"`
}

type TypingSetPayload struct {
	OrderID  uuid.UUID `json:"order_id"`
	IsTyping bool      `json:"is_typing"`
}

type MessageReadPayload struct {
	MessageID string `json:"message_id"`
}

// --- Server → Client payloads ---

type MessagePayload struct {
	domain.Message
}

type MessageSentPayload struct {
	Nonce   string         `json:"nonce,omitempty"`
	Message domain.Message `json:"message"`
}

type HistoryPayload struct {
	OrderID  uuid.UUID        `json:"order_id"`
	Messages []domain.Message `json:"messages"`
	LastSeq  int64            `json:"last_seq"`
}

type JoinedPayload struct {
	OrderID uuid.UUID   `json:"order_id"`
	Role    domain.Role `json:"role"`
}

type LeftPayload struct {
	OrderID uuid.UUID `json:"order_id"`
}

type TypingChangedPayload struct {
	OrderID       uuid.UUID `json:"order_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	IsTyping      bool      `json:"is_typing"`
}

type ReadAckPayload struct {
	domain.ReadReceipt
}

type ErrorPayload struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType string, orderID *uuid.UUID, payload any) (*Event, error) {
	var data json.RawMessage
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}
	return &Event{
		Type:      eventType,
		OrderID:   orderID,
		Payload:   data,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// encodeEvent marshals a server→client event into a frame ready for a send queue.
func encodeEvent(eventType string, orderID *uuid.UUID, ref string, payload any) ([]byte, error) {
	evt, err := NewEvent(eventType, orderID, payload)
	if err != nil {
		return nil, err
	}
	evt.Ref = ref
	return json.Marshal(evt)
}
