package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/orderchat/internal/domain"
)

// MessageRepository is the durable, append-only store of order chat messages.
type MessageRepository interface {
	// Insert assigns msg.Seq (next value for the order) and persists msg.
	Insert(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	// ListByOrder returns messages with Seq > afterSeq in ascending Seq order.
	ListByOrder(ctx context.Context, orderID uuid.UUID, afterSeq int64) ([]domain.Message, error)
	// MarkRead flips the read flag if it is still unset and reports whether it did.
	MarkRead(ctx context.Context, id string, readAt time.Time) (bool, error)
	Ping(ctx context.Context) error
}

// ParticipantRepository resolves who takes part in an order. It is owned by
// order management; this service only reads it.
type ParticipantRepository interface {
	GetParticipants(ctx context.Context, orderID uuid.UUID) (*domain.Participants, error)
}
