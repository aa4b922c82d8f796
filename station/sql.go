package station

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("station not found")

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) GetStations(ctx context.Context) ([]Station, error) {
	var stations []Station
	err := r.db.SelectContext(ctx, &stations, getStations)
	return stations, err
}

const getStations = `SELECT * FROM stations ORDER BY name`

func (r *Repository) GetStation(ctx context.Context, id uuid.UUID) (Station, error) {
	var s Station
	err := r.db.GetContext(ctx, &s, getStation, id)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

const getStation = `SELECT * FROM stations WHERE id = $1`
