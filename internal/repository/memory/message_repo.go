package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/orderchat/internal/domain"
)

// MessageRepo keeps messages in process memory. It backs tests and local tooling.
type MessageRepo struct {
	mu      sync.RWMutex
	byOrder map[uuid.UUID][]*domain.Message
	byID    map[string]*domain.Message
}

func NewMessageRepo() *MessageRepo {
	return &MessageRepo{
		byOrder: make(map[uuid.UUID][]*domain.Message),
		byID:    make(map[string]*domain.Message),
	}
}

func (r *MessageRepo) Insert(_ context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := r.byOrder[msg.OrderID]
	msg.Seq = int64(len(msgs)) + 1

	stored := *msg
	r.byOrder[msg.OrderID] = append(msgs, &stored)
	r.byID[msg.ID] = &stored
	return nil
}

func (r *MessageRepo) GetByID(_ context.Context, id string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	out := *msg
	return &out, nil
}

func (r *MessageRepo) ListByOrder(_ context.Context, orderID uuid.UUID, afterSeq int64) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.byOrder[orderID]
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(msgs)) {
		return nil, nil
	}

	out := make([]domain.Message, 0, int64(len(msgs))-afterSeq)
	for _, m := range msgs[afterSeq:] {
		out = append(out, *m)
	}
	return out, nil
}

func (r *MessageRepo) MarkRead(_ context.Context, id string, readAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.byID[id]
	if !ok || msg.IsRead {
		return false, nil
	}
	msg.IsRead = true
	msg.ReadAt = &readAt
	return true, nil
}

func (r *MessageRepo) Ping(context.Context) error {
	return nil
}
