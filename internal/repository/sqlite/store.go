package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/vedran77/orderchat/internal/domain"
)

// Store keeps messages and a local copy of the order participant tables in a
// single SQLite file. Intended for single-node deployments and development.
type Store struct {
	db *sql.DB
}

// Open creates the database file (and its directory) if needed and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "./data/orderchat.db"
	}

	// Each in-memory store gets its own name so stores in one process stay apart.
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=on"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		dsn = path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One writer keeps the MAX(seq)+1 allocation race free.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS order_messages (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		sender_id TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		sender_role TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		read_at DATETIME,
		UNIQUE (order_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_order_messages_order_created ON order_messages(order_id, created_at);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		courier_id TEXT,
		restaurant_id TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS restaurant_staff (
		restaurant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (restaurant_id, user_id)
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Insert(ctx context.Context, msg *domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM order_messages WHERE order_id = ?`,
		msg.OrderID.String(),
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_messages (id, order_id, seq, sender_id, sender_name, sender_role, body, created_at, is_read, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.OrderID.String(), seq, msg.SenderID.String(), msg.SenderName, string(msg.SenderRole),
		msg.Body, msg.CreatedAt.UTC(), msg.IsRead, nullTime(msg.ReadAt),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	msg.Seq = seq
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, seq, sender_id, sender_name, sender_role, body, created_at, is_read, read_at
		FROM order_messages WHERE id = ?`, id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) ListByOrder(ctx context.Context, orderID uuid.UUID, afterSeq int64) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, seq, sender_id, sender_name, sender_role, body, created_at, is_read, read_at
		FROM order_messages
		WHERE order_id = ? AND seq > ?
		ORDER BY seq ASC`, orderID.String(), afterSeq)
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

func (s *Store) MarkRead(ctx context.Context, id string, readAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE order_messages SET is_read = 1, read_at = ? WHERE id = ? AND is_read = 0`,
		readAt.UTC(), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) GetParticipants(ctx context.Context, orderID uuid.UUID) (*domain.Participants, error) {
	var customerID string
	var courierID sql.NullString
	var restaurantID string
	err := s.db.QueryRowContext(ctx,
		`SELECT customer_id, courier_id, restaurant_id FROM orders WHERE id = ?`, orderID.String(),
	).Scan(&customerID, &courierID, &restaurantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p := &domain.Participants{OrderID: orderID, StaffIDs: []uuid.UUID{}}
	if p.CustomerID, err = uuid.Parse(customerID); err != nil {
		return nil, fmt.Errorf("order %s customer id: %w", orderID, err)
	}
	if courierID.Valid && courierID.String != "" {
		id, err := uuid.Parse(courierID.String)
		if err != nil {
			return nil, fmt.Errorf("order %s courier id: %w", orderID, err)
		}
		p.CourierID = &id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM restaurant_staff WHERE restaurant_id = ? AND active = 1`, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("staff id %q: %w", raw, err)
		}
		p.StaffIDs = append(p.StaffIDs, id)
	}
	return p, rows.Err()
}

// UpsertOrder seeds or updates the local order tables.
func (s *Store) UpsertOrder(ctx context.Context, orderID, restaurantID uuid.UUID, p domain.Participants) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var courier any
	if p.CourierID != nil {
		courier = p.CourierID.String()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, courier_id, restaurant_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET customer_id = excluded.customer_id,
			courier_id = excluded.courier_id, restaurant_id = excluded.restaurant_id`,
		orderID.String(), p.CustomerID.String(), courier, restaurantID.String())
	if err != nil {
		return err
	}

	for _, staffID := range p.StaffIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO restaurant_staff (restaurant_id, user_id, active) VALUES (?, ?, 1)`,
			restaurantID.String(), staffID.String())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*domain.Message, error) {
	var msg domain.Message
	var orderID, senderID, role string
	var readAt sql.NullTime
	err := row.Scan(
		&msg.ID, &orderID, &msg.Seq, &senderID, &msg.SenderName, &role,
		&msg.Body, &msg.CreatedAt, &msg.IsRead, &readAt,
	)
	if err != nil {
		return nil, err
	}

	if msg.OrderID, err = uuid.Parse(orderID); err != nil {
		return nil, err
	}
	if msg.SenderID, err = uuid.Parse(senderID); err != nil {
		return nil, err
	}
	msg.SenderRole = domain.Role(role)
	if !msg.SenderRole.Valid() {
		return nil, fmt.Errorf("message %s has unknown sender role %q", msg.ID, role)
	}
	if readAt.Valid {
		t := readAt.Time
		msg.ReadAt = &t
	}
	return &msg, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
