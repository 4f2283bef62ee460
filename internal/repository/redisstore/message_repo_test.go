package redisstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/orderchat/internal/domain"
)

func newTestRepo(t *testing.T) *MessageRepo {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewMessageRepo(client)
}

func newMessage(orderID uuid.UUID, body string) *domain.Message {
	return &domain.Message{
		ID:         ulid.Make().String(),
		OrderID:    orderID,
		SenderID:   uuid.New(),
		SenderName: "Ana",
		SenderRole: domain.RoleCustomer,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestMessageRepoInsertList(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	orderID := uuid.New()

	a := newMessage(orderID, "where are you?")
	b := newMessage(orderID, "2 minutes away")
	require.NoError(t, repo.Insert(ctx, a))
	require.NoError(t, repo.Insert(ctx, b))
	require.NoError(t, repo.Insert(ctx, newMessage(uuid.New(), "elsewhere")))

	assert.Equal(t, int64(1), a.Seq)
	assert.Equal(t, int64(2), b.Seq)

	msgs, err := repo.ListByOrder(ctx, orderID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, a.ID, msgs[0].ID)
	assert.Equal(t, b.ID, msgs[1].ID)

	tail, err := repo.ListByOrder(ctx, orderID, 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, b.ID, tail[0].ID)
}

func TestMessageRepoMarkReadIsMonotonic(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	msg := newMessage(uuid.New(), "ready for pickup")
	require.NoError(t, repo.Insert(ctx, msg))

	readAt := time.Now().UTC().Truncate(time.Millisecond)

	var flipped atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(offset time.Duration) {
			defer wg.Done()
			ok, err := repo.MarkRead(ctx, msg.ID, readAt.Add(offset))
			if err == nil && ok {
				flipped.Add(1)
			}
		}(time.Duration(i) * time.Second)
	}
	wg.Wait()
	assert.Equal(t, int32(1), flipped.Load())

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsRead)
	require.NotNil(t, got.ReadAt)

	ok, err := repo.MarkRead(ctx, msg.ID, readAt.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, again.ReadAt.Equal(*got.ReadAt))

	msgs, err := repo.ListByOrder(ctx, msg.OrderID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMessageRepoMissing(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	got, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, err := repo.MarkRead(ctx, "nope", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect(context.Background(), "not a url")
	assert.Error(t, err)
}
