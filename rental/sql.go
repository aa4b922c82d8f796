package rental

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mebike/rental-backend/internal/pg"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) GetByID(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (Rental, error) {
	var rt Rental
	err := sqlx.GetContext(ctx, q, &rt, getByIDQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return rt, ErrNotFound
	}
	return rt, err
}

const getByIDQuery = `SELECT * FROM rentals WHERE id = $1`

// GetByIDForUpdate locks the rental row for the remainder of the transaction.
func (r *Repository) GetByIDForUpdate(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (Rental, error) {
	var rt Rental
	err := sqlx.GetContext(ctx, q, &rt, getByIDForUpdateQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return rt, ErrNotFound
	}
	return rt, err
}

const getByIDForUpdateQuery = `SELECT * FROM rentals WHERE id = $1 FOR UPDATE`

func (r *Repository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]Rental, error) {
	var rentals []Rental
	err := r.db.SelectContext(ctx, &rentals, listByUserIDQuery, userID)
	return rentals, err
}

const listByUserIDQuery = `SELECT * FROM rentals WHERE user_id = $1 ORDER BY start_time DESC`

func (r *Repository) FindActiveByUserID(ctx context.Context, q sqlx.QueryerContext, userID uuid.UUID) (*Rental, error) {
	return findActive(ctx, q, findActiveByUserQuery, userID)
}

const findActiveByUserQuery = `
SELECT * FROM rentals WHERE user_id = $1 AND status IN ('RENTED', 'RESERVED')
`

func (r *Repository) FindActiveByBikeID(ctx context.Context, q sqlx.QueryerContext, bikeID uuid.UUID) (*Rental, error) {
	return findActive(ctx, q, findActiveByBikeQuery, bikeID)
}

const findActiveByBikeQuery = `
SELECT * FROM rentals WHERE bike_id = $1 AND status IN ('RENTED', 'RESERVED')
`

func findActive(ctx context.Context, q sqlx.QueryerContext, query string, id uuid.UUID) (*Rental, error) {
	var rt Rental
	err := sqlx.GetContext(ctx, q, &rt, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

// CreateRented inserts a RENTED rental inside the caller's transaction. The
// partial unique indexes turn a start-time race into a *UniqueViolationError.
func (r *Repository) CreateRented(ctx context.Context, q sqlx.QueryerContext, userID, bikeID, startStationID uuid.UUID, startTime time.Time) (Rental, error) {
	return r.create(ctx, q, uuid.New(), userID, bikeID, startStationID, startTime, StatusRented)
}

// CreateReserved inserts the rental row mirroring a reservation hold; the two
// share an id and are created together.
func (r *Repository) CreateReserved(ctx context.Context, q sqlx.QueryerContext, reservationID, userID, bikeID, startStationID uuid.UUID, startTime time.Time) (Rental, error) {
	return r.create(ctx, q, reservationID, userID, bikeID, startStationID, startTime, StatusReserved)
}

func (r *Repository) create(ctx context.Context, q sqlx.QueryerContext, id, userID, bikeID, startStationID uuid.UUID, startTime time.Time, status Status) (Rental, error) {
	var rt Rental
	err := sqlx.GetContext(ctx, q, &rt, createQuery, id, userID, bikeID, startStationID, startTime, status)
	if constraint, ok := pg.UniqueViolation(err); ok {
		return rt, &UniqueViolationError{Constraint: constraint}
	}
	return rt, err
}

const createQuery = `
INSERT INTO rentals (id, user_id, bike_id, start_station_id, start_time, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING *
`

// StartReserved flips a mirrored rental RESERVED -> RENTED when its hold is
// confirmed; reports whether a row changed.
func (r *Repository) StartReserved(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, startTime time.Time) (bool, error) {
	return conditional(ctx, q, startReservedQuery, id, startTime)
}

const startReservedQuery = `
UPDATE rentals SET status = 'RENTED', start_time = $2, updated_at = now()
WHERE id = $1 AND status = 'RESERVED'
`

// CancelReserved flips a mirrored rental RESERVED -> CANCELLED when its hold
// is cancelled or expires.
func (r *Repository) CancelReserved(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, at time.Time) (bool, error) {
	return conditional(ctx, q, cancelReservedQuery, id, at)
}

const cancelReservedQuery = `
UPDATE rentals SET status = 'CANCELLED', end_time = $2, updated_at = now()
WHERE id = $1 AND status = 'RESERVED'
`

func conditional(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (bool, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type completeParams struct {
	RentalID     uuid.UUID
	EndStationID uuid.UUID
	EndTime      time.Time
	TotalPrice   int64
	Reason       string
	EndedBy      *uuid.UUID
}

// Complete finishes a RENTED rental. Restricting the UPDATE to the RENTED
// status makes a concurrent double-end observable as zero rows changed.
func (r *Repository) Complete(ctx context.Context, q sqlx.QueryerContext, p completeParams) (*Rental, error) {
	var rt Rental
	err := sqlx.GetContext(ctx, q, &rt, completeQuery,
		p.RentalID, p.EndStationID, p.EndTime, p.TotalPrice, p.Reason, p.EndedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

const completeQuery = `
UPDATE rentals
SET status = 'COMPLETED', end_station_id = $2, end_time = $3, total_price = $4,
    end_reason = NULLIF($5, ''), ended_by = $6, updated_at = now()
WHERE id = $1 AND status = 'RENTED'
RETURNING *
`

// ReservationPrepaid reads the prepaid amount held by the reservation sharing
// this rental's id, zero when the rental was started directly.
func (r *Repository) ReservationPrepaid(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (int64, error) {
	var prepaid int64
	err := sqlx.GetContext(ctx, q, &prepaid, reservationPrepaidQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return prepaid, err
}

const reservationPrepaidQuery = `SELECT prepaid FROM reservations WHERE id = $1`
