package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mebike/rental-backend/bike"
	"github.com/mebike/rental-backend/internal/email"
	"github.com/mebike/rental-backend/internal/pg"
	"github.com/mebike/rental-backend/outbox"
	"github.com/mebike/rental-backend/rental"
	"github.com/mebike/rental-backend/station"
	"github.com/mebike/rental-backend/subscription"
	"github.com/mebike/rental-backend/user"
	"github.com/mebike/rental-backend/wallet"
)

// Config carries the tunables for holds and refunds.
type Config struct {
	Hold Hold
	// PrepaidAmount is debited up front for a ONE_TIME hold and credited back
	// against the eventual rental price.
	PrepaidAmount int64
	// RefundPeriodHours bounds how long after creation a cancelled ONE_TIME
	// hold still refunds its prepaid amount.
	RefundPeriodHours int
}

// Service implements the reservation hold lifecycle. Every mutation runs in a
// single transaction threaded through the repositories; the scheduled
// follow-ups (reminder, expiry) are enqueued in that same transaction.
type Service struct {
	db           *sqlx.DB
	reservations *Repository
	rentals      *rental.Repository
	bikes        *bike.Repository
	wallets      *wallet.Repository
	subs         *subscription.Repository
	users        *user.Repository
	stations     *station.Repository
	jobs         *outbox.Repository
	cfg          Config
	logger       *slog.Logger
}

func NewService(
	db *sqlx.DB,
	reservations *Repository,
	rentals *rental.Repository,
	bikes *bike.Repository,
	wallets *wallet.Repository,
	subs *subscription.Repository,
	users *user.Repository,
	stations *station.Repository,
	jobs *outbox.Repository,
	cfg Config,
	logger *slog.Logger,
) *Service {
	return &Service{
		db:           db,
		reservations: reservations,
		rentals:      rentals,
		bikes:        bikes,
		wallets:      wallets,
		subs:         subs,
		users:        users,
		stations:     stations,
		jobs:         jobs,
		cfg:          cfg,
		logger:       logger,
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Reservation, error) {
	return s.reservations.GetByID(ctx, s.db, id)
}

func (s *Service) ListByUserID(ctx context.Context, userID uuid.UUID) ([]Reservation, error) {
	return s.reservations.ListByUserID(ctx, userID)
}

type ReserveInput struct {
	UserID         uuid.UUID
	BikeID         uuid.UUID
	StationID      uuid.UUID
	Option         Option
	SubscriptionID *uuid.UUID
	StartTime      time.Time
}

// Reserve places a timed hold on a bike. The hold row, its mirrored rental
// row, the payment and the three scheduled jobs all commit atomically, so a
// hold that exists always has its expiry queued.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (Reservation, error) {
	switch in.Option {
	case OptionOneTime, OptionSubscription:
	case OptionFixedSlot:
		return Reservation{}, ErrOptionNotSupported
	default:
		return Reservation{}, ErrOptionNotSupported
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Reservation{}, err
	}
	defer tx.Rollback()

	existing, err := s.rentals.FindActiveByUserID(ctx, tx, in.UserID)
	if err != nil {
		return Reservation{}, err
	}
	if existing != nil {
		return Reservation{}, rental.ErrActiveRentalExists
	}

	b, err := s.bikes.GetBike(ctx, tx, in.BikeID)
	if err != nil {
		return Reservation{}, err
	}
	if b.StationID == nil || *b.StationID != in.StationID {
		return Reservation{}, ErrBikeNotAvailable
	}
	if b.Status != bike.StatusAvailable {
		return Reservation{}, ErrBikeNotAvailable
	}

	id := uuid.New()

	var prepaid int64
	switch in.Option {
	case OptionOneTime:
		w, err := s.wallets.GetByUserID(ctx, tx, in.UserID)
		if err != nil {
			return Reservation{}, err
		}
		_, err = s.wallets.Debit(ctx, tx, w.ID, s.cfg.PrepaidAmount,
			fmt.Sprintf("reserve:reservation:%s", id),
			fmt.Sprintf("Reservation %s prepaid", id))
		if err != nil {
			return Reservation{}, err
		}
		prepaid = s.cfg.PrepaidAmount
	case OptionSubscription:
		if in.SubscriptionID == nil {
			return Reservation{}, ErrSubscriptionRequired
		}
		if err := s.subs.UseOne(ctx, tx, *in.SubscriptionID, in.UserID); err != nil {
			return Reservation{}, err
		}
	}

	end := s.cfg.Hold.EndTime(in.StartTime)

	// The rental row goes first: the reservation shares its id and carries
	// the foreign key.
	if _, err := s.rentals.CreateReserved(ctx, tx, id, in.UserID, in.BikeID, in.StationID, in.StartTime); err != nil {
		return Reservation{}, err
	}

	res, err := s.reservations.Create(ctx, tx, createParams{
		ID:        id,
		UserID:    in.UserID,
		BikeID:    in.BikeID,
		StationID: in.StationID,
		Option:    in.Option,
		Prepaid:   prepaid,
		StartTime: in.StartTime,
		EndTime:   end,
	})
	if err != nil {
		return Reservation{}, err
	}

	reserved, err := s.bikes.ReserveIfAvailable(ctx, tx, in.BikeID)
	if err != nil {
		return Reservation{}, err
	}
	if !reserved {
		return Reservation{}, ErrBikeNotAvailable
	}

	if err := s.enqueueHoldJobs(ctx, tx, res, b); err != nil {
		return Reservation{}, err
	}

	if err := tx.Commit(); err != nil {
		if constraint, ok := pg.UniqueViolation(err); ok {
			uv := &rental.UniqueViolationError{Constraint: constraint}
			if uv.OnUser() {
				return Reservation{}, rental.ErrActiveRentalExists
			}
			return Reservation{}, ErrBikeNotAvailable
		}
		return Reservation{}, err
	}

	s.logger.Info("reservation placed",
		"reservationId", res.ID, "userId", in.UserID, "bikeId", in.BikeID,
		"option", res.Option, "endTime", res.EndTime)
	return res, nil
}

// enqueueHoldJobs schedules the confirmation email, the near-expiry reminder
// and the expiry sweep for a fresh hold.
func (s *Service) enqueueHoldJobs(ctx context.Context, tx *sqlx.Tx, res Reservation, b bike.Bike) error {
	now := res.StartTime

	u, err := s.users.GetUser(ctx, res.UserID)
	if err != nil {
		return err
	}
	st, err := s.stations.GetStation(ctx, res.StationID)
	if err != nil {
		return err
	}
	msg := email.ReservationConfirmed(u.Fullname.String, st.Name, b.Label, res.StartTime, res.EndTime)

	confirm, err := outbox.NewJob(outbox.TypeEmailSend, email.Payload{
		To:      u.Email.String,
		Subject: msg.Subject,
		Body:    msg.Body,
	}, now, fmt.Sprintf("reservation:confirm:%s", res.ID))
	if err != nil {
		return err
	}

	notify, err := outbox.NewJob(outbox.TypeReservationNotifyNearExpiry,
		HoldJobPayload{ReservationID: res.ID},
		s.cfg.Hold.NotifyAt(now, res.EndTime),
		fmt.Sprintf("reservation:notify:%s", res.ID))
	if err != nil {
		return err
	}

	expire, err := outbox.NewJob(outbox.TypeReservationExpireHold,
		HoldJobPayload{ReservationID: res.ID},
		s.cfg.Hold.ExpireAt(now, res.EndTime),
		fmt.Sprintf("reservation:expire:%s", res.ID))
	if err != nil {
		return err
	}

	for _, j := range []outbox.Job{confirm, notify, expire} {
		if err := s.jobs.Enqueue(ctx, tx, j); err != nil {
			return err
		}
	}
	return nil
}

type ConfirmInput struct {
	UserID        uuid.UUID
	ReservationID uuid.UUID
	Now           time.Time
}

// Confirm turns a pending hold into a running rental. The conditional updates
// mean a confirm racing the expiry sweep has exactly one winner.
func (s *Service) Confirm(ctx context.Context, in ConfirmInput) (Reservation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Reservation{}, err
	}
	defer tx.Rollback()

	res, err := s.reservations.GetByID(ctx, tx, in.ReservationID)
	if err != nil {
		return Reservation{}, err
	}
	if res.UserID != in.UserID {
		return Reservation{}, ErrNotOwner
	}
	if res.Status != StatusPending {
		return Reservation{}, ErrNotPending
	}
	if in.Now.After(res.EndTime) {
		return Reservation{}, ErrHoldExpired
	}

	ok, err := s.reservations.ConfirmPending(ctx, tx, res.ID, in.Now)
	if err != nil {
		return Reservation{}, err
	}
	if !ok {
		return Reservation{}, ErrNotPending
	}

	started, err := s.rentals.StartReserved(ctx, tx, res.ID, in.Now)
	if err != nil {
		return Reservation{}, err
	}
	if !started {
		return Reservation{}, ErrReservedRentalGone
	}

	booked, err := s.bikes.BookIfReserved(ctx, tx, res.BikeID)
	if err != nil {
		return Reservation{}, err
	}
	if !booked {
		return Reservation{}, ErrBikeNotAvailable
	}

	if err := tx.Commit(); err != nil {
		return Reservation{}, err
	}

	res.Status = StatusActive
	s.logger.Info("reservation confirmed", "reservationId", res.ID, "userId", in.UserID)
	return res, nil
}

type CancelInput struct {
	UserID        uuid.UUID
	ReservationID uuid.UUID
	Now           time.Time
}

// Cancel releases a pending hold. The refund happens after commit: the hold
// is gone either way, and the idempotent credit can be retried safely.
func (s *Service) Cancel(ctx context.Context, in CancelInput) (Reservation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Reservation{}, err
	}
	defer tx.Rollback()

	res, err := s.reservations.GetByID(ctx, tx, in.ReservationID)
	if err != nil {
		return Reservation{}, err
	}
	if res.UserID != in.UserID {
		return Reservation{}, ErrNotOwner
	}

	ok, err := s.reservations.CancelPending(ctx, tx, res.ID, in.Now)
	if err != nil {
		return Reservation{}, err
	}
	if !ok {
		return Reservation{}, ErrNotPending
	}

	// The mirrored rental and the bike may already have moved on; losing
	// those races is fine once the hold itself is cancelled.
	if _, err := s.rentals.CancelReserved(ctx, tx, res.ID, in.Now); err != nil {
		return Reservation{}, err
	}
	if _, err := s.bikes.ReleaseIfReserved(ctx, tx, res.BikeID); err != nil {
		return Reservation{}, err
	}

	if err := tx.Commit(); err != nil {
		return Reservation{}, err
	}

	res.Status = StatusCancelled
	s.logger.Info("reservation cancelled", "reservationId", res.ID, "userId", in.UserID)

	s.refundPrepaid(ctx, res, in.Now)
	return res, nil
}

// refundPrepaid credits the prepaid amount back after a cancel. Only ONE_TIME
// holds paid anything, and only within the refund window. The hash makes the
// credit idempotent, so a failure here is logged and left for a retry of the
// cancel call.
func (s *Service) refundPrepaid(ctx context.Context, res Reservation, now time.Time) {
	if res.Option != OptionOneTime || res.Prepaid <= 0 {
		return
	}
	if now.Sub(res.CreatedAt) > time.Duration(s.cfg.RefundPeriodHours)*time.Hour {
		s.logger.Info("reservation refund window elapsed", "reservationId", res.ID)
		return
	}

	w, err := s.wallets.GetByUserID(ctx, s.db, res.UserID)
	if err != nil {
		s.logger.Warn("reservation refund failed", "reservationId", res.ID, "error", err)
		return
	}
	_, err = s.wallets.Credit(ctx, s.db, w.ID, res.Prepaid,
		fmt.Sprintf("refund:reservation:%s", res.ID),
		fmt.Sprintf("Reservation %s refund", res.ID))
	if err != nil {
		s.logger.Warn("reservation refund failed", "reservationId", res.ID, "error", err)
		return
	}
	s.logger.Info("reservation refunded", "reservationId", res.ID, "amount", res.Prepaid)
}
