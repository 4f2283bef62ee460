package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/vedran77/orderchat/internal/domain"
	"github.com/vedran77/orderchat/internal/metrics"
	"github.com/vedran77/orderchat/internal/repository"
	"github.com/vedran77/orderchat/pkg/validator"
)

const defaultStoreTimeout = 10 * time.Second

// Notifier broadcasts real-time events to the connections in an order room.
type Notifier interface {
	// NotifyNewMessage fans msg out to the room, skipping excludeConn (uuid.Nil skips nobody).
	NotifyNewMessage(msg *domain.Message, excludeConn uuid.UUID)
	NotifyRead(receipt domain.ReadReceipt)
	NotifyTyping(orderID, participantID uuid.UUID, isTyping bool)
	// SyncParticipants hands over the order's current participant set so
	// connections of removed participants stop receiving its events.
	SyncParticipants(p domain.Participants)
}

type ChatService struct {
	messages     repository.MessageRepository
	participants repository.ParticipantRepository
	notifier     Notifier
	locks        orderLocks
	logger       zerolog.Logger

	maxLength    int
	storeTimeout time.Duration
	now          func() time.Time
}

func NewChatService(
	messages repository.MessageRepository,
	participants repository.ParticipantRepository,
	maxLength int,
	logger zerolog.Logger,
) *ChatService {
	return &ChatService{
		messages:     messages,
		participants: participants,
		logger:       logger.With().Str("component", "chat").Logger(),
		maxLength:    maxLength,
		storeTimeout: defaultStoreTimeout,
		now:          time.Now,
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *ChatService) SetNotifier(n Notifier) {
	s.notifier = n
}

type SendInput struct {
	OrderID uuid.UUID
	Sender  domain.Identity
	Body    string
	// Origin is the connection that issued the send; it gets the message in its
	// acknowledgement instead of the broadcast.
	Origin uuid.UUID
}

// Authorize returns the caller's role on the order, or ErrForbidden when the
// caller is not a current participant. Every lookup refreshes the room's view
// of who is still on the order.
func (s *ChatService) Authorize(ctx context.Context, orderID uuid.UUID, id domain.Identity) (domain.Role, error) {
	p, err := s.participants.GetParticipants(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("resolving participants of %s: %w", orderID, err)
	}
	if p == nil {
		return "", domain.ErrOrderNotFound
	}
	if s.notifier != nil {
		s.notifier.SyncParticipants(*p)
	}

	role, ok := p.RoleOf(id.UserID)
	if !ok {
		return "", domain.ErrForbidden
	}
	return role, nil
}

// Send persists a message and only then broadcasts it to the order room.
func (s *ChatService) Send(ctx context.Context, in SendInput) (*domain.Message, error) {
	role, err := s.Authorize(ctx, in.OrderID, in.Sender)
	if err != nil {
		return nil, err
	}

	body, errs := validator.ValidateMessageBody(in.Body, s.maxLength)
	if errs.HasErrors() {
		return nil, &domain.ValidationError{Fields: errs}
	}

	// Holding the order lock across insert and broadcast keeps the room's
	// delivery order equal to the store's append order.
	unlock := s.locks.lock(in.OrderID)
	defer unlock()

	msg := &domain.Message{
		ID:         ulid.Make().String(),
		OrderID:    in.OrderID,
		SenderID:   in.Sender.UserID,
		SenderName: in.Sender.DisplayName,
		SenderRole: role,
		Body:       body,
		CreatedAt:  s.now().UTC(),
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	start := time.Now()
	err = s.messages.Insert(storeCtx, msg)
	metrics.StoreLatency.WithLabelValues("insert").Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Error().Err(err).Str("order_id", in.OrderID.String()).Msg("persisting message failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	metrics.MessagesSent.WithLabelValues(string(role)).Inc()
	if s.notifier != nil {
		s.notifier.NotifyNewMessage(msg, in.Origin)
	}

	return msg, nil
}

// MarkRead records that reader has seen a message sent by the other side.
// It returns a nil receipt without error when there is nothing to do.
func (s *ChatService) MarkRead(ctx context.Context, messageID string, reader domain.Identity) (*domain.ReadReceipt, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading message: %v", domain.ErrPersistence, err)
	}
	if msg == nil {
		return nil, domain.ErrMessageNotFound
	}

	role, err := s.Authorize(ctx, msg.OrderID, reader)
	if err != nil {
		return nil, err
	}
	if !readableBy(msg, reader.UserID, role) {
		return nil, nil
	}

	unlock := s.locks.lock(msg.OrderID)
	defer unlock()

	return s.markRead(ctx, msg, reader.UserID)
}

// MarkAllRead marks every unread message from the other side of the order as read.
func (s *ChatService) MarkAllRead(ctx context.Context, orderID uuid.UUID, reader domain.Identity) ([]domain.ReadReceipt, error) {
	role, err := s.Authorize(ctx, orderID, reader)
	if err != nil {
		return nil, err
	}

	msgs, err := s.messages.ListByOrder(ctx, orderID, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: listing messages: %v", domain.ErrPersistence, err)
	}

	unlock := s.locks.lock(orderID)
	defer unlock()

	receipts := []domain.ReadReceipt{}
	for i := range msgs {
		if !readableBy(&msgs[i], reader.UserID, role) {
			continue
		}
		receipt, err := s.markRead(ctx, &msgs[i], reader.UserID)
		if err != nil {
			return receipts, err
		}
		if receipt != nil {
			receipts = append(receipts, *receipt)
		}
	}
	return receipts, nil
}

// GetHistory returns the order's messages with Seq > afterSeq, oldest first.
func (s *ChatService) GetHistory(ctx context.Context, orderID uuid.UUID, requester domain.Identity, afterSeq int64) ([]domain.Message, error) {
	if _, err := s.Authorize(ctx, orderID, requester); err != nil {
		return nil, err
	}

	start := time.Now()
	msgs, err := s.messages.ListByOrder(ctx, orderID, max(afterSeq, 0))
	metrics.StoreLatency.WithLabelValues("list").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: listing messages: %v", domain.ErrPersistence, err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// markRead expects the order lock to be held.
func (s *ChatService) markRead(ctx context.Context, msg *domain.Message, readerID uuid.UUID) (*domain.ReadReceipt, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	readAt := s.now().UTC()
	updated, err := s.messages.MarkRead(storeCtx, msg.ID, readAt)
	if err != nil {
		return nil, fmt.Errorf("%w: marking %s read: %v", domain.ErrPersistence, msg.ID, err)
	}
	if !updated {
		return nil, nil
	}

	receipt := domain.ReadReceipt{
		MessageID: msg.ID,
		OrderID:   msg.OrderID,
		ReaderID:  readerID,
		ReadAt:    readAt,
	}
	metrics.ReadReceipts.Inc()
	if s.notifier != nil {
		s.notifier.NotifyRead(receipt)
	}
	return &receipt, nil
}

// storeContext detaches writes from the caller so a dropped connection
// cannot abort a write halfway; the result is simply discarded.
func (s *ChatService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
}

// readableBy reports whether reader is on the receiving side of msg.
func readableBy(msg *domain.Message, readerID uuid.UUID, readerRole domain.Role) bool {
	return !msg.IsRead && msg.SenderID != readerID && msg.SenderRole != readerRole
}

// IsClientError reports whether err is caused by the request rather than the server.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrForbidden) ||
		errors.Is(err, domain.ErrOrderNotFound) ||
		errors.Is(err, domain.ErrMessageNotFound) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrUnauthenticated)
}
