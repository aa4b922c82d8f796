package subscription

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound      = errors.New("subscription not found")
	ErrNotUsable     = errors.New("subscription not usable")
	ErrUsageExceeded = errors.New("subscription usage exceeded")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// UseOne consumes a single entitlement inside the caller's transaction. The
// usage cap is enforced by the WHERE clause, so concurrent consumers cannot
// push usage past max_usages.
func (r *Repository) UseOne(ctx context.Context, q sqlx.ExtContext, id, userID uuid.UUID) error {
	res, err := q.ExecContext(ctx, useOneQuery, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var s Subscription
	err = sqlx.GetContext(ctx, q, &s, getQuery, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if s.Status != "ACTIVE" {
		return ErrNotUsable
	}
	return ErrUsageExceeded
}

const useOneQuery = `
UPDATE subscriptions SET usage_count = usage_count + 1
WHERE id = $1 AND user_id = $2 AND status = 'ACTIVE'
  AND (max_usages IS NULL OR usage_count < max_usages)
`

const getQuery = `SELECT * FROM subscriptions WHERE id = $1 AND user_id = $2`
