package user

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID
	Auth0ID   string         `db:"auth0_id"`
	Email     sql.NullString `db:"email"`
	Fullname  sql.NullString `db:"fullname"`
	Role      string
	CreatedAt time.Time `db:"created_at"`
}
