package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/orderchat/internal/domain"
)

// ParticipantRepo reads order participants from the marketplace schema.
type ParticipantRepo struct {
	pool *pgxpool.Pool
}

func NewParticipantRepo(pool *pgxpool.Pool) *ParticipantRepo {
	return &ParticipantRepo{pool: pool}
}

func (r *ParticipantRepo) GetParticipants(ctx context.Context, orderID uuid.UUID) (*domain.Participants, error) {
	query := `
		SELECT o.id, o.customer_id, o.courier_id,
			COALESCE(array_agg(s.user_id) FILTER (WHERE s.user_id IS NOT NULL), '{}') AS staff_ids
		FROM orders o
		LEFT JOIN restaurant_staff s ON s.restaurant_id = o.restaurant_id AND s.active
		WHERE o.id = $1
		GROUP BY o.id, o.customer_id, o.courier_id`

	var p domain.Participants
	err := r.pool.QueryRow(ctx, query, orderID).Scan(&p.OrderID, &p.CustomerID, &p.CourierID, &p.StaffIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
