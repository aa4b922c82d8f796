package reservation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) GetByID(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (Reservation, error) {
	var res Reservation
	err := sqlx.GetContext(ctx, q, &res, getByIDQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return res, ErrNotFound
	}
	return res, err
}

const getByIDQuery = `SELECT * FROM reservations WHERE id = $1`

func (r *Repository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]Reservation, error) {
	var rs []Reservation
	err := r.db.SelectContext(ctx, &rs, listByUserIDQuery, userID)
	return rs, err
}

const listByUserIDQuery = `SELECT * FROM reservations WHERE user_id = $1 ORDER BY created_at DESC`

type createParams struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	BikeID    uuid.UUID
	StationID uuid.UUID
	Option    Option
	Prepaid   int64
	StartTime time.Time
	EndTime   time.Time
}

func (r *Repository) Create(ctx context.Context, q sqlx.QueryerContext, p createParams) (Reservation, error) {
	var res Reservation
	err := sqlx.GetContext(ctx, q, &res, createReservationQuery,
		p.ID, p.UserID, p.BikeID, p.StationID, p.Option, p.Prepaid, p.StartTime, p.EndTime)
	return res, err
}

const createReservationQuery = `
INSERT INTO reservations (id, user_id, bike_id, station_id, option, prepaid, start_time, end_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING *
`

// The three transitions out of PENDING are conditional updates guarded on the
// current status: exactly one of confirm, cancel and expire can win, and the
// losers observe zero rows changed.

func (r *Repository) ConfirmPending(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, now time.Time) (bool, error) {
	return transition(ctx, q, confirmPendingQuery, id, now)
}

const confirmPendingQuery = `
UPDATE reservations SET status = 'ACTIVE', updated_at = $2
WHERE id = $1 AND status = 'PENDING'
`

func (r *Repository) CancelPending(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, now time.Time) (bool, error) {
	return transition(ctx, q, cancelPendingQuery, id, now)
}

const cancelPendingQuery = `
UPDATE reservations SET status = 'CANCELLED', updated_at = $2
WHERE id = $1 AND status = 'PENDING'
`

// ExpirePendingHold is the worker's compare-and-swap against user confirm and
// cancel: it only fires while the hold is still PENDING and past its deadline.
func (r *Repository) ExpirePendingHold(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, now time.Time) (bool, error) {
	return transition(ctx, q, expirePendingHoldQuery, id, now)
}

const expirePendingHoldQuery = `
UPDATE reservations SET status = 'EXPIRED', updated_at = $2
WHERE id = $1 AND status = 'PENDING' AND end_time <= $2
`

func transition(ctx context.Context, q sqlx.ExtContext, query string, id uuid.UUID, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
