package station

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Station is read-only reference data for the rental engine; operators manage
// stations elsewhere.
type Station struct {
	ID       uuid.UUID
	Name     string
	Address  string
	Capacity int
	Location pgtype.Point
}
