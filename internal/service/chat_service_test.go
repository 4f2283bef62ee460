package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/orderchat/internal/domain"
)

func TestSendPersistsThenBroadcasts(t *testing.T) {
	f := newFixture()
	origin := uuid.New()

	msg, err := f.svc.Send(context.Background(), SendInput{
		OrderID: f.orderID,
		Sender:  f.customer,
		Body:    "  where are you?  ",
		Origin:  origin,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, int64(1), msg.Seq)
	assert.Equal(t, "where are you?", msg.Body)
	assert.Equal(t, domain.RoleCustomer, msg.SenderRole)
	assert.Equal(t, "Carla", msg.SenderName)
	assert.False(t, msg.IsRead)

	sent := f.notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, msg.ID, sent[0].msg.ID)
	assert.Equal(t, origin, sent[0].exclude)
	assert.Empty(t, f.notifier.notPersisted)
}

func TestSendValidation(t *testing.T) {
	f := newFixture()

	for _, body := range []string{"", "   ", strings.Repeat("x", 501)} {
		_, err := f.send(f.customer, body)
		assert.ErrorIs(t, err, domain.ErrValidation)

		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields, "body")
	}

	history, err := f.svc.GetHistory(context.Background(), f.orderID, f.customer, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, f.notifier.sent())
}

func TestSendAuthorizationComesFirst(t *testing.T) {
	f := newFixture()

	_, err := f.send(f.stranger, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Send(context.Background(), SendInput{OrderID: uuid.New(), Sender: f.customer, Body: "hi"})
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Empty(t, f.notifier.sent())
}

func TestSendPersistenceFailureDoesNotBroadcast(t *testing.T) {
	f := newFixture()

	_, err := f.send(f.customer, "first")
	require.NoError(t, err)

	f.store.setFail(true)
	_, err = f.send(f.customer, "lost")
	assert.ErrorIs(t, err, domain.ErrPersistence)

	f.store.setFail(false)
	_, err = f.send(f.customer, "third")
	require.NoError(t, err)

	sent := f.notifier.sent()
	require.Len(t, sent, 2)

	history, err := f.svc.GetHistory(context.Background(), f.orderID, f.courier, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Everything that was broadcast is in history, in the same order.
	for i := range sent {
		assert.Equal(t, sent[i].msg.ID, history[i].ID)
	}
	assert.Empty(t, f.notifier.notPersisted)
}

func TestConcurrentSendsBroadcastInStoreOrder(t *testing.T) {
	f := newFixture()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		sender := f.customer
		if i%2 == 0 {
			sender = f.courier
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.send(sender, "ping")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sent := f.notifier.sent()
	require.Len(t, sent, 30)
	for i, ev := range sent {
		assert.Equal(t, int64(i+1), ev.msg.Seq, "broadcast %d out of order", i)
	}

	history, err := f.svc.GetHistory(context.Background(), f.orderID, f.staff, 0)
	require.NoError(t, err)
	for i := range history {
		assert.Equal(t, sent[i].msg.ID, history[i].ID)
	}
}

func TestGetHistoryAfterSeq(t *testing.T) {
	f := newFixture()
	for _, body := range []string{"one", "two", "three"} {
		_, err := f.send(f.customer, body)
		require.NoError(t, err)
	}

	tail, err := f.svc.GetHistory(context.Background(), f.orderID, f.courier, 1)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "two", tail[0].Body)
	assert.Equal(t, "three", tail[1].Body)

	_, err = f.svc.GetHistory(context.Background(), f.orderID, f.stranger, 0)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestRemovedCourierLosesAccessOnNextCall(t *testing.T) {
	f := newFixture()
	_, err := f.send(f.courier, "on my way")
	require.NoError(t, err)

	newCourier := uuid.New()
	f.participants.AssignCourier(f.orderID, &newCourier)

	_, err = f.send(f.courier, "still here?")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.GetHistory(context.Background(), f.orderID, f.courier, 0)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	history, err := f.svc.GetHistory(context.Background(), f.orderID, domain.Identity{UserID: newCourier}, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAuthorizeSyncsParticipantsBeforeBroadcast(t *testing.T) {
	f := newFixture()
	f.participants.AssignCourier(f.orderID, nil)

	_, err := f.send(f.customer, "secret gate code 1234")
	require.NoError(t, err)

	synced := f.notifier.syncedParticipants()
	require.NotEmpty(t, synced)
	last := synced[len(synced)-1]
	assert.Equal(t, f.orderID, last.OrderID)
	assert.Nil(t, last.CourierID)

	_, err = f.svc.Authorize(context.Background(), uuid.New(), f.customer)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Len(t, f.notifier.syncedParticipants(), len(synced))
}

func TestSendInvalidUTF8IsRejected(t *testing.T) {
	f := newFixture()

	_, err := f.send(f.customer, "gate code \xff1234")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, f.notifier.sent())
}

func TestMarkRead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	msg, err := f.send(f.courier, "2 minutes away")
	require.NoError(t, err)

	// The sender cannot trigger a receipt for their own message.
	receipt, err := f.svc.MarkRead(ctx, msg.ID, f.courier)
	require.NoError(t, err)
	assert.Nil(t, receipt)

	receipt, err = f.svc.MarkRead(ctx, msg.ID, f.customer)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, msg.ID, receipt.MessageID)
	assert.Equal(t, f.orderID, receipt.OrderID)
	assert.Equal(t, f.customer.UserID, receipt.ReaderID)

	// Second read keeps the original timestamp and does not re-broadcast.
	f.svc.now = func() time.Time { return receipt.ReadAt.Add(time.Hour) }
	again, err := f.svc.MarkRead(ctx, msg.ID, f.staff)
	require.NoError(t, err)
	assert.Nil(t, again)
	require.Len(t, f.notifier.readReceipts(), 1)

	stored, err := f.store.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ReadAt)
	assert.True(t, stored.ReadAt.Equal(receipt.ReadAt))
}

func TestMarkReadErrors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.MarkRead(ctx, "missing", f.customer)
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	msg, err := f.send(f.courier, "hello")
	require.NoError(t, err)

	_, err = f.svc.MarkRead(ctx, msg.ID, f.stranger)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Empty(t, f.notifier.readReceipts())
}

func TestMarkAllReadOnlyTouchesOtherSide(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	fromCourier, err := f.send(f.courier, "arrived")
	require.NoError(t, err)
	fromStaff, err := f.send(f.staff, "order is packed")
	require.NoError(t, err)
	own, err := f.send(f.customer, "thanks")
	require.NoError(t, err)

	receipts, err := f.svc.MarkAllRead(ctx, f.orderID, f.customer)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, fromCourier.ID, receipts[0].MessageID)
	assert.Equal(t, fromStaff.ID, receipts[1].MessageID)

	stored, err := f.store.GetByID(ctx, own.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsRead)

	receipts, err = f.svc.MarkAllRead(ctx, f.orderID, f.customer)
	require.NoError(t, err)
	assert.Empty(t, receipts)

	_, err = f.svc.MarkAllRead(ctx, f.orderID, f.stranger)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(domain.ErrForbidden))
	assert.True(t, IsClientError(&domain.ValidationError{Fields: map[string]string{"body": "x"}}))
	assert.False(t, IsClientError(domain.ErrPersistence))
	assert.False(t, IsClientError(errStoreDown))
}
