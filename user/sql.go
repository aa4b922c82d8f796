package user

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("user not found")

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, getUserQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const getUserQuery = `SELECT * FROM users WHERE id = $1`

func (r *Repository) GetUserByAuth0ID(ctx context.Context, auth0ID string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, getUserByAuth0IDQuery, auth0ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const getUserByAuth0IDQuery = `SELECT * FROM users WHERE auth0_id = $1`

// CreateUser provisions a user row together with an empty wallet. Called the
// first time an authenticated subject shows up.
func (r *Repository) CreateUser(ctx context.Context, auth0ID, email, fullname string) (*User, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var u User
	err = tx.GetContext(ctx, &u, createUserQuery, uuid.New(), auth0ID, email, fullname)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, createWalletQuery, uuid.New(), u.ID)
	if err != nil {
		return nil, err
	}

	return &u, tx.Commit()
}

const createUserQuery = `
INSERT INTO users (id, auth0_id, email, fullname)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
RETURNING *
`

const createWalletQuery = `INSERT INTO wallets (id, user_id) VALUES ($1, $2)`
