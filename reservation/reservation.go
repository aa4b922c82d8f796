// Package reservation owns the hold lifecycle: a time-boxed PENDING
// reservation that keeps a bike aside without yet activating a full rental,
// together with the mirrored rental row it shares an id with, the bike status,
// the wallet pre-authorization and the deferred expiry jobs — all moved as one
// unit of work.
package reservation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

type Option string

const (
	OptionOneTime      Option = "ONE_TIME"
	OptionSubscription Option = "SUBSCRIPTION"
	OptionFixedSlot    Option = "FIXED_SLOT"
)

// Reservation shares its id with the mirrored rental row; the two are created
// and destroyed together.
type Reservation struct {
	ID        uuid.UUID
	UserID    uuid.UUID `db:"user_id"`
	BikeID    uuid.UUID `db:"bike_id"`
	StationID uuid.UUID `db:"station_id"`
	Status    Status
	Option    Option
	Prepaid   int64
	StartTime time.Time `db:"start_time"`
	EndTime   time.Time `db:"end_time"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

var (
	ErrNotFound             = errors.New("reservation not found")
	ErrNotOwner             = errors.New("reservation belongs to another user")
	ErrNotPending           = errors.New("reservation is not pending")
	ErrHoldExpired          = errors.New("reservation hold has expired")
	ErrBikeNotAvailable     = errors.New("bike is not available")
	ErrOptionNotSupported   = errors.New("reservation option not supported")
	ErrSubscriptionRequired = errors.New("reservation option requires a subscription")
	ErrReservedRentalGone   = errors.New("mirrored reserved rental not found")
)

// HoldJobPayload is the body of the near-expiry and expire-hold outbox jobs.
type HoldJobPayload struct {
	ReservationID uuid.UUID `json:"reservationId"`
}
