package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/orderchat/internal/domain"
)

// ParticipantRepo is a mutable in-memory participant directory.
type ParticipantRepo struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]domain.Participants
}

func NewParticipantRepo() *ParticipantRepo {
	return &ParticipantRepo{orders: make(map[uuid.UUID]domain.Participants)}
}

// Put creates or replaces the participant set of an order.
func (r *ParticipantRepo) Put(p domain.Participants) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.StaffIDs = slices.Clone(p.StaffIDs)
	r.orders[p.OrderID] = p
}

// AssignCourier replaces the courier of an order; nil unassigns.
func (r *ParticipantRepo) AssignCourier(orderID uuid.UUID, courierID *uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.orders[orderID]
	if !ok {
		return
	}
	p.CourierID = courierID
	r.orders[orderID] = p
}

func (r *ParticipantRepo) GetParticipants(_ context.Context, orderID uuid.UUID) (*domain.Participants, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.orders[orderID]
	if !ok {
		return nil, nil
	}
	p.StaffIDs = slices.Clone(p.StaffIDs)
	return &p, nil
}
