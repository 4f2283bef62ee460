package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/orderchat/internal/domain"
	"github.com/vedran77/orderchat/internal/repository/memory"
)

type typingEvent struct {
	orderID       uuid.UUID
	participantID uuid.UUID
	isTyping      bool
}

type sentEvent struct {
	msg     domain.Message
	exclude uuid.UUID
}

// recordingNotifier captures every event for assertions. When store is set it
// also checks that each broadcast message is already persisted.
type recordingNotifier struct {
	mu           sync.Mutex
	store        *memory.MessageRepo
	messages     []sentEvent
	receipts     []domain.ReadReceipt
	typing       []typingEvent
	synced       []domain.Participants
	notPersisted []string
}

func (n *recordingNotifier) NotifyNewMessage(msg *domain.Message, exclude uuid.UUID) {
	if n.store != nil {
		if got, _ := n.store.GetByID(context.Background(), msg.ID); got == nil {
			n.mu.Lock()
			n.notPersisted = append(n.notPersisted, msg.ID)
			n.mu.Unlock()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, sentEvent{msg: *msg, exclude: exclude})
}

func (n *recordingNotifier) NotifyRead(r domain.ReadReceipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, r)
}

func (n *recordingNotifier) NotifyTyping(orderID, participantID uuid.UUID, isTyping bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.typing = append(n.typing, typingEvent{orderID, participantID, isTyping})
}

func (n *recordingNotifier) SyncParticipants(p domain.Participants) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.synced = append(n.synced, p)
}

func (n *recordingNotifier) syncedParticipants() []domain.Participants {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Participants(nil), n.synced...)
}

func (n *recordingNotifier) typingEvents() []typingEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]typingEvent(nil), n.typing...)
}

func (n *recordingNotifier) sent() []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentEvent(nil), n.messages...)
}

func (n *recordingNotifier) readReceipts() []domain.ReadReceipt {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.ReadReceipt(nil), n.receipts...)
}

var errStoreDown = errors.New("connection refused")

// failingRepo wraps a real repo and fails inserts while failInsert is set.
type failingRepo struct {
	*memory.MessageRepo
	mu         sync.Mutex
	failInsert bool
}

func (r *failingRepo) setFail(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failInsert = v
}

func (r *failingRepo) Insert(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	fail := r.failInsert
	r.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return r.MessageRepo.Insert(ctx, msg)
}

// fixture is one order with a customer, a courier and one staff member.
type fixture struct {
	orderID      uuid.UUID
	customer     domain.Identity
	courier      domain.Identity
	staff        domain.Identity
	stranger     domain.Identity
	participants *memory.ParticipantRepo
	store        *failingRepo
	notifier     *recordingNotifier
	svc          *ChatService
}

func newFixture() *fixture {
	f := &fixture{
		orderID:      uuid.New(),
		customer:     domain.Identity{UserID: uuid.New(), DisplayName: "Carla"},
		courier:      domain.Identity{UserID: uuid.New(), DisplayName: "Dino"},
		staff:        domain.Identity{UserID: uuid.New(), DisplayName: "Kitchen"},
		stranger:     domain.Identity{UserID: uuid.New(), DisplayName: "Eve"},
		participants: memory.NewParticipantRepo(),
	}
	courierID := f.courier.UserID
	f.participants.Put(domain.Participants{
		OrderID:    f.orderID,
		CustomerID: f.customer.UserID,
		CourierID:  &courierID,
		StaffIDs:   []uuid.UUID{f.staff.UserID},
	})

	mem := memory.NewMessageRepo()
	f.store = &failingRepo{MessageRepo: mem}
	f.notifier = &recordingNotifier{store: mem}
	f.svc = NewChatService(f.store, f.participants, 500, testLogger())
	f.svc.SetNotifier(f.notifier)
	f.svc.now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) send(id domain.Identity, body string) (*domain.Message, error) {
	return f.svc.Send(context.Background(), SendInput{OrderID: f.orderID, Sender: id, Body: body})
}
