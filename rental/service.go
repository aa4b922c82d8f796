package rental

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mebike/rental-backend/bike"
	"github.com/mebike/rental-backend/internal/pg"
	"github.com/mebike/rental-backend/wallet"
)

// Config carries the tunables for starting and pricing rentals.
type Config struct {
	MinBalanceToRent int64
	Pricing          Pricing
}

// Service implements the rental lifecycle use-cases. Every multi-entity
// mutation runs inside a single transaction threaded through the repositories.
type Service struct {
	db      *sqlx.DB
	rentals *Repository
	bikes   *bike.Repository
	wallets *wallet.Repository
	cfg     Config
	logger  *slog.Logger
}

func NewService(db *sqlx.DB, rentals *Repository, bikes *bike.Repository, wallets *wallet.Repository, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		db:      db,
		rentals: rentals,
		bikes:   bikes,
		wallets: wallets,
		cfg:     cfg,
		logger:  logger,
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Rental, error) {
	return s.rentals.GetByID(ctx, s.db, id)
}

func (s *Service) ListByUserID(ctx context.Context, userID uuid.UUID) ([]Rental, error) {
	return s.rentals.ListByUserID(ctx, userID)
}

type StartInput struct {
	UserID         uuid.UUID
	BikeID         uuid.UUID
	StartStationID uuid.UUID
	StartTime      time.Time
}

// Start begins a direct rental. Preconditions are checked in a fixed order,
// each surfacing its own failure; the database uniqueness constraints settle
// any race the checks cannot see.
func (s *Service) Start(ctx context.Context, in StartInput) (Rental, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Rental{}, err
	}
	defer tx.Rollback()

	existing, err := s.rentals.FindActiveByUserID(ctx, tx, in.UserID)
	if err != nil {
		return Rental{}, err
	}
	if existing != nil {
		return Rental{}, ErrActiveRentalExists
	}

	b, err := s.bikes.GetBike(ctx, tx, in.BikeID)
	if err != nil {
		return Rental{}, err
	}
	if b.StationID == nil {
		return Rental{}, ErrBikeMissingStation
	}
	if *b.StationID != in.StartStationID {
		return Rental{}, ErrBikeNotFoundInStation
	}
	if failure := statusFailure(b.Status); failure != nil {
		return Rental{}, failure
	}

	w, err := s.wallets.GetByUserID(ctx, tx, in.UserID)
	if err != nil {
		return Rental{}, err
	}
	if w.Balance < s.cfg.MinBalanceToRent {
		return Rental{}, ErrInsufficientBalanceToRent
	}

	booked, err := s.bikes.BookIfAvailable(ctx, tx, in.BikeID)
	if err != nil {
		return Rental{}, err
	}
	if !booked {
		// Someone flipped the status between our read and the update.
		latest, err := s.bikes.GetBike(ctx, tx, in.BikeID)
		if err != nil {
			return Rental{}, err
		}
		if failure := statusFailure(latest.Status); failure != nil {
			return Rental{}, failure
		}
		return Rental{}, ErrBikeAlreadyRented
	}

	rt, err := s.rentals.CreateRented(ctx, tx, in.UserID, in.BikeID, in.StartStationID, in.StartTime)
	if err != nil {
		return Rental{}, err
	}

	if err := tx.Commit(); err != nil {
		if constraint, ok := pg.UniqueViolation(err); ok {
			return Rental{}, &UniqueViolationError{Constraint: constraint}
		}
		return Rental{}, err
	}

	s.logger.Info("rental started", "rentalId", rt.ID, "userId", in.UserID, "bikeId", in.BikeID)
	return rt, nil
}

type EndInput struct {
	UserID       uuid.UUID
	RentalID     uuid.UUID
	EndStationID uuid.UUID
	EndTime      time.Time
}

// End completes the caller's own rental.
func (s *Service) End(ctx context.Context, in EndInput) (Rental, error) {
	return s.end(ctx, in.RentalID, in.EndStationID, in.EndTime, "", &in.UserID, nil)
}

type EndByAdminInput struct {
	AdminID      uuid.UUID
	RentalID     uuid.UUID
	EndStationID uuid.UUID
	// EndTime overrides the wall clock when set; otherwise now is used.
	EndTime *time.Time
	Reason  string
}

// EndByAdmin force-completes any rental, recording who ended it and why.
func (s *Service) EndByAdmin(ctx context.Context, in EndByAdminInput) (Rental, error) {
	endTime := time.Now()
	if in.EndTime != nil {
		endTime = *in.EndTime
	}
	return s.end(ctx, in.RentalID, in.EndStationID, endTime, in.Reason, nil, &in.AdminID)
}

func (s *Service) end(ctx context.Context, rentalID, endStationID uuid.UUID, endTime time.Time, reason string, owner, endedBy *uuid.UUID) (Rental, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Rental{}, err
	}
	defer tx.Rollback()

	current, err := s.rentals.GetByIDForUpdate(ctx, tx, rentalID)
	if err != nil {
		return Rental{}, err
	}
	if owner != nil && current.UserID != *owner {
		return Rental{}, ErrNotOwner
	}
	switch current.Status {
	case StatusRented:
	case StatusCompleted:
		return Rental{}, ErrAlreadyEnded
	default:
		return Rental{}, ErrInvalidState
	}

	prepaid, err := s.rentals.ReservationPrepaid(ctx, tx, rentalID)
	if err != nil {
		return Rental{}, err
	}

	duration := DurationMinutes(current.StartTime, endTime)
	price := s.cfg.Pricing.Price(duration, prepaid)

	if price > 0 {
		w, err := s.wallets.GetByUserID(ctx, tx, current.UserID)
		if err != nil {
			return Rental{}, err
		}
		_, err = s.wallets.Debit(ctx, tx, w.ID, price,
			fmt.Sprintf("rental:%s", rentalID),
			fmt.Sprintf("Rental %s (%d min)", rentalID, duration))
		if err != nil {
			return Rental{}, err
		}
	}

	if err := s.bikes.Release(ctx, tx, current.BikeID); err != nil {
		return Rental{}, err
	}

	updated, err := s.rentals.Complete(ctx, tx, completeParams{
		RentalID:     rentalID,
		EndStationID: endStationID,
		EndTime:      endTime,
		TotalPrice:   price,
		Reason:       reason,
		EndedBy:      endedBy,
	})
	if err != nil {
		return Rental{}, err
	}
	if updated == nil {
		return Rental{}, ErrAlreadyEnded
	}

	if err := tx.Commit(); err != nil {
		return Rental{}, err
	}

	s.logger.Info("rental ended",
		"rentalId", rentalID, "durationMinutes", duration, "totalPrice", price)
	return *updated, nil
}
