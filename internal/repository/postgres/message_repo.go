package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/orderchat/internal/domain"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

const messageColumns = `id, order_id, seq, sender_id, sender_name, sender_role, body, created_at, is_read, read_at`

func (r *MessageRepo) Insert(ctx context.Context, msg *domain.Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback(ctx)

	// The upsert row lock serializes concurrent inserts for the same order.
	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO order_chat_sequences (order_id, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (order_id) DO UPDATE SET last_seq = order_chat_sequences.last_seq + 1
		RETURNING last_seq`, msg.OrderID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID, msg.OrderID, seq, msg.SenderID, msg.SenderName, string(msg.SenderRole),
		msg.Body, msg.CreatedAt, msg.IsRead, msg.ReadAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	msg.Seq = seq
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM order_messages WHERE id = $1`
	msg, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *MessageRepo) ListByOrder(ctx context.Context, orderID uuid.UUID, afterSeq int64) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM order_messages
		WHERE order_id = $1 AND seq > $2
		ORDER BY seq ASC`

	rows, err := r.pool.Query(ctx, query, orderID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func (r *MessageRepo) MarkRead(ctx context.Context, id string, readAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE order_messages SET is_read = TRUE, read_at = $1 WHERE id = $2 AND is_read = FALSE`,
		readAt, id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *MessageRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	var role string
	err := row.Scan(
		&msg.ID, &msg.OrderID, &msg.Seq, &msg.SenderID, &msg.SenderName, &role,
		&msg.Body, &msg.CreatedAt, &msg.IsRead, &msg.ReadAt,
	)
	if err != nil {
		return nil, err
	}
	msg.SenderRole = domain.Role(role)
	if !msg.SenderRole.Valid() {
		return nil, fmt.Errorf("message %s has unknown sender role %q", msg.ID, role)
	}
	return &msg, nil
}
