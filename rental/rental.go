// Package rental owns the rental lifecycle: starting, ending and cancelling
// rentals, and the pricing applied when one ends.
package rental

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mebike/rental-backend/bike"
)

type Status string

const (
	StatusRented    Status = "RENTED"
	StatusReserved  Status = "RESERVED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

type Rental struct {
	ID             uuid.UUID
	UserID         uuid.UUID      `db:"user_id"`
	BikeID         uuid.UUID      `db:"bike_id"`
	StartStationID uuid.UUID      `db:"start_station_id"`
	EndStationID   *uuid.UUID     `db:"end_station_id"`
	StartTime      time.Time      `db:"start_time"`
	EndTime        sql.NullTime   `db:"end_time"`
	Status         Status
	TotalPrice     sql.NullInt64  `db:"total_price"`
	EndReason      sql.NullString `db:"end_reason"`
	EndedBy        *uuid.UUID     `db:"ended_by"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// Expected business-rule failures, surfaced to the caller as typed results.
// They are not bugs and are never retried automatically.
var (
	ErrActiveRentalExists        = errors.New("user already has an active rental")
	ErrBikeMissingStation        = errors.New("bike has no current station")
	ErrBikeNotFoundInStation     = errors.New("bike is not at the requested station")
	ErrBikeAlreadyRented         = errors.New("bike is already rented")
	ErrBikeIsBroken              = errors.New("bike is broken")
	ErrBikeIsMaintained          = errors.New("bike is under maintenance")
	ErrBikeIsReserved            = errors.New("bike is reserved")
	ErrBikeUnavailable           = errors.New("bike is unavailable")
	ErrInsufficientBalanceToRent = errors.New("insufficient balance to rent")
	ErrNotFound                  = errors.New("rental not found")
	ErrNotOwner                  = errors.New("rental belongs to another user")
	ErrAlreadyEnded              = errors.New("rental already ended")
	ErrInvalidState              = errors.New("rental is not in a state that can be ended")
)

// UniqueViolationError is the storage-race signal: two truly concurrent start
// transactions cannot both commit, and the loser gets this instead of a raw
// constraint violation. Retryable by the caller.
type UniqueViolationError struct {
	Constraint string
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("rental unique constraint violated: %s", e.Constraint)
}

// OnUser reports whether the race was lost on the one-active-rental-per-user
// constraint (as opposed to per-bike).
func (e *UniqueViolationError) OnUser() bool {
	return e.Constraint == "rentals_one_active_per_user"
}

// statusFailure maps a non-rentable bike status to its start-rental failure.
func statusFailure(s bike.Status) error {
	switch s {
	case bike.StatusBooked:
		return ErrBikeAlreadyRented
	case bike.StatusBroken:
		return ErrBikeIsBroken
	case bike.StatusMaintained:
		return ErrBikeIsMaintained
	case bike.StatusReserved:
		return ErrBikeIsReserved
	case bike.StatusUnavailable:
		return ErrBikeUnavailable
	}
	return nil
}
