package wallet

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mebike/rental-backend/internal/pg"
)

var (
	ErrNotFound            = errors.New("wallet not found")
	ErrFrozen              = errors.New("wallet is frozen")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Get reads a wallet outside any caller transaction.
func (r *Repository) Get(ctx context.Context, userID uuid.UUID) (Wallet, error) {
	return r.GetByUserID(ctx, r.db, userID)
}

func (r *Repository) GetByUserID(ctx context.Context, q sqlx.QueryerContext, userID uuid.UUID) (Wallet, error) {
	var w Wallet
	err := sqlx.GetContext(ctx, q, &w, getByUserIDQuery, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return w, ErrNotFound
	}
	return w, err
}

const getByUserIDQuery = `SELECT * FROM wallets WHERE user_id = $1`

func (r *Repository) GetTransactionByHash(ctx context.Context, q sqlx.QueryerContext, hash string) (*Transaction, error) {
	var t Transaction
	err := sqlx.GetContext(ctx, q, &t, getTransactionByHashQuery, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const getTransactionByHashQuery = `SELECT * FROM wallet_transactions WHERE hash = $1`

// Debit decrements the wallet balance and appends a ledger row, inside the
// caller's transaction. A prior row with the same hash short-circuits: the
// balance is not touched again and the prior row is returned.
func (r *Repository) Debit(ctx context.Context, q sqlx.ExtContext, walletID uuid.UUID, amount int64, hash, description string) (*Transaction, error) {
	return r.apply(ctx, q, walletID, -amount, hash, description)
}

// Credit is the symmetric idempotent increment; used for refunds and top-ups.
func (r *Repository) Credit(ctx context.Context, q sqlx.ExtContext, walletID uuid.UUID, amount int64, hash, description string) (*Transaction, error) {
	return r.apply(ctx, q, walletID, amount, hash, description)
}

func (r *Repository) apply(ctx context.Context, q sqlx.ExtContext, walletID uuid.UUID, amount int64, hash, description string) (*Transaction, error) {
	prior, err := r.GetTransactionByHash(ctx, q, hash)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return prior, nil
	}

	res, err := q.ExecContext(ctx, applyBalanceQuery, walletID, amount)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		var w Wallet
		err = sqlx.GetContext(ctx, q, &w, getByIDQuery, walletID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if w.Status == StatusFrozen {
			return nil, ErrFrozen
		}
		return nil, ErrInsufficientBalance
	}

	var t Transaction
	err = sqlx.GetContext(ctx, q, &t, insertTransactionQuery, uuid.New(), walletID, amount, hash, description)
	if _, dup := pg.UniqueViolation(err); dup {
		// Two transactions raced on the same hash; the other one's row wins.
		return r.GetTransactionByHash(ctx, q, hash)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// The balance check lives in the WHERE clause so two concurrent debits can
// never overdraw; the loser sees zero rows affected.
const applyBalanceQuery = `
UPDATE wallets SET balance = balance + $2
WHERE id = $1 AND status = 'ACTIVE' AND balance + $2 >= 0
`

const getByIDQuery = `SELECT * FROM wallets WHERE id = $1`

const insertTransactionQuery = `
INSERT INTO wallet_transactions (id, wallet_id, amount, hash, description)
VALUES ($1, $2, $3, $4, NULLIF($5, ''))
RETURNING *
`

// TopUp credits a user's wallet in its own transaction. The hash carries the
// payment provider's reference, so a replayed webhook credits only once.
func (r *Repository) TopUp(ctx context.Context, userID uuid.UUID, amount int64, hash, description string) (*Transaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	w, err := r.GetByUserID(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	t, err := r.Credit(ctx, tx, w.ID, amount, hash, description)
	if err != nil {
		return nil, err
	}
	return t, tx.Commit()
}

// ListTransactions returns the ledger rows for a wallet, newest first.
func (r *Repository) ListTransactions(ctx context.Context, walletID uuid.UUID) ([]Transaction, error) {
	var ts []Transaction
	err := r.db.SelectContext(ctx, &ts, listTransactionsQuery, walletID)
	return ts, err
}

const listTransactionsQuery = `
SELECT * FROM wallet_transactions WHERE wallet_id = $1 ORDER BY created_at DESC
`
