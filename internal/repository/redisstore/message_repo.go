package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vedran77/orderchat/internal/domain"
)

const markReadRetries = 5

// reader is the subset of commands shared by *redis.Client and *redis.Tx.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
}

// MessageRepo stores each order's messages in a sorted set scored by seq.
// Messages never expire.
type MessageRepo struct {
	client *redis.Client
}

func NewMessageRepo(client *redis.Client) *MessageRepo {
	return &MessageRepo{client: client}
}

// Connect parses redisURL and verifies the server is reachable.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// orderMessagesKey returns the key for an order's message sorted set.
func orderMessagesKey(orderID uuid.UUID) string {
	return fmt.Sprintf("order:%s:messages", orderID)
}

// orderSeqKey returns the key holding an order's last assigned seq.
func orderSeqKey(orderID uuid.UUID) string {
	return fmt.Sprintf("order:%s:seq", orderID)
}

// messageIndexKey maps a message ID to "<orderID>:<seq>".
func messageIndexKey(id string) string {
	return fmt.Sprintf("message:%s", id)
}

func (r *MessageRepo) Insert(ctx context.Context, msg *domain.Message) error {
	seq, err := r.client.Incr(ctx, orderSeqKey(msg.OrderID)).Result()
	if err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	stored := *msg
	stored.Seq = seq
	data, err := json.Marshal(&stored)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, orderMessagesKey(msg.OrderID), redis.Z{Score: float64(seq), Member: string(data)})
		pipe.Set(ctx, messageIndexKey(msg.ID), fmt.Sprintf("%s:%d", msg.OrderID, seq), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	msg.Seq = seq
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	orderID, seq, err := r.lookup(ctx, r.client, id)
	if err != nil || orderID == uuid.Nil {
		return nil, err
	}
	msg, _, err := r.memberAt(ctx, r.client, orderID, seq)
	return msg, err
}

func (r *MessageRepo) ListByOrder(ctx context.Context, orderID uuid.UUID, afterSeq int64) ([]domain.Message, error) {
	results, err := r.client.ZRangeByScore(ctx, orderMessagesKey(orderID), &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", afterSeq),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(results))
	for _, data := range results {
		var msg domain.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return nil, fmt.Errorf("decode message in %s: %w", orderID, err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// MarkRead swaps the stored member under WATCH so concurrent readers flip the flag once.
func (r *MessageRepo) MarkRead(ctx context.Context, id string, readAt time.Time) (bool, error) {
	orderID, seq, err := r.lookup(ctx, r.client, id)
	if err != nil || orderID == uuid.Nil {
		return false, err
	}
	key := orderMessagesKey(orderID)

	for i := 0; i < markReadRetries; i++ {
		updated := false
		err = r.client.Watch(ctx, func(tx *redis.Tx) error {
			msg, raw, err := r.memberAt(ctx, tx, orderID, seq)
			if err != nil || msg == nil || msg.IsRead {
				return err
			}

			msg.IsRead = true
			msg.ReadAt = &readAt
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZRem(ctx, key, raw)
				pipe.ZAdd(ctx, key, redis.Z{Score: float64(seq), Member: string(data)})
				return nil
			})
			if err == nil {
				updated = true
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return updated, err
	}
	return false, fmt.Errorf("mark read %s: too much contention", id)
}

func (r *MessageRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *MessageRepo) lookup(ctx context.Context, c reader, id string) (uuid.UUID, int64, error) {
	ref, err := c.Get(ctx, messageIndexKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, 0, nil
	}
	if err != nil {
		return uuid.Nil, 0, err
	}

	rawOrder, rawSeq, ok := strings.Cut(ref, ":")
	if !ok {
		return uuid.Nil, 0, fmt.Errorf("corrupt index for message %s: %q", id, ref)
	}
	orderID, err := uuid.Parse(rawOrder)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("corrupt index for message %s: %w", id, err)
	}
	seq, err := strconv.ParseInt(rawSeq, 10, 64)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("corrupt index for message %s: %w", id, err)
	}
	return orderID, seq, nil
}

// memberAt returns the decoded message at seq together with its raw member.
func (r *MessageRepo) memberAt(ctx context.Context, c reader, orderID uuid.UUID, seq int64) (*domain.Message, string, error) {
	score := strconv.FormatInt(seq, 10)
	results, err := c.ZRangeByScore(ctx, orderMessagesKey(orderID), &redis.ZRangeBy{Min: score, Max: score}).Result()
	if err != nil {
		return nil, "", err
	}
	if len(results) == 0 {
		return nil, "", nil
	}

	var msg domain.Message
	if err := json.Unmarshal([]byte(results[0]), &msg); err != nil {
		return nil, "", err
	}
	return &msg, results[0], nil
}
