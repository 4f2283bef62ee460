package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single chat line attached to an order. Only IsRead/ReadAt
// change after creation.
type Message struct {
	ID         string     `json:"id"`
	OrderID    uuid.UUID  `json:"order_id"`
	Seq        int64      `json:"seq"`
	SenderID   uuid.UUID  `json:"sender_id"`
	SenderName string     `json:"sender_name"`
	SenderRole Role       `json:"sender_role"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
	IsRead     bool       `json:"is_read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// ReadReceipt records that the other side of an order has seen a message.
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	OrderID   uuid.UUID `json:"order_id"`
	ReaderID  uuid.UUID `json:"reader_id"`
	ReadAt    time.Time `json:"read_at"`
}
