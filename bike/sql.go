package bike

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("bike not found")

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetBikes(ctx context.Context) ([]Bike, error) {
	var bikes []Bike
	err := r.db.SelectContext(ctx, &bikes, getBikes)
	return bikes, err
}

const getBikes = `SELECT * FROM bikes ORDER BY label`

func (r *Repository) GetBike(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (Bike, error) {
	var b Bike
	err := sqlx.GetContext(ctx, q, &b, getBike, id)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	return b, err
}

const getBike = `SELECT * FROM bikes WHERE id = $1`

func (r *Repository) GetBikeByLabel(ctx context.Context, label string) (Bike, error) {
	var b Bike
	err := r.db.GetContext(ctx, &b, getBikeByLabel, label)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	return b, err
}

const getBikeByLabel = `SELECT * FROM bikes WHERE label = $1`

// DB returns the underlying handle for callers that start their own transactions.
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

// The four status flips below are conditional updates: each one only moves a
// bike out of the expected current status and reports whether a row changed.
// Exactly one of several racing transitions can win; the losers observe false.

func (r *Repository) ReserveIfAvailable(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (bool, error) {
	return flip(ctx, q, reserveIfAvailable, id)
}

const reserveIfAvailable = `UPDATE bikes SET status = 'RESERVED' WHERE id = $1 AND status = 'AVAILABLE'`

func (r *Repository) BookIfAvailable(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (bool, error) {
	return flip(ctx, q, bookIfAvailable, id)
}

const bookIfAvailable = `UPDATE bikes SET status = 'BOOKED' WHERE id = $1 AND status = 'AVAILABLE'`

func (r *Repository) BookIfReserved(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (bool, error) {
	return flip(ctx, q, bookIfReserved, id)
}

const bookIfReserved = `UPDATE bikes SET status = 'BOOKED' WHERE id = $1 AND status = 'RESERVED'`

func (r *Repository) ReleaseIfReserved(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (bool, error) {
	return flip(ctx, q, releaseIfReserved, id)
}

const releaseIfReserved = `UPDATE bikes SET status = 'AVAILABLE' WHERE id = $1 AND status = 'RESERVED'`

// Release unconditionally returns a bike to AVAILABLE; used when a rental ends.
func (r *Repository) Release(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) error {
	_, err := q.ExecContext(ctx, releaseBike, id)
	return err
}

const releaseBike = `UPDATE bikes SET status = 'AVAILABLE' WHERE id = $1`

func flip(ctx context.Context, q sqlx.ExtContext, query string, id uuid.UUID) (bool, error) {
	res, err := q.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
