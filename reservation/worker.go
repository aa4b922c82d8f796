package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/mebike/rental-backend/bike"
	"github.com/mebike/rental-backend/internal/email"
	"github.com/mebike/rental-backend/outbox"
	"github.com/mebike/rental-backend/station"
	"github.com/mebike/rental-backend/user"
)

// Worker holds the outbox handlers for the scheduled side of the hold
// lifecycle. Deliveries are at least once, so both handlers re-validate the
// reservation from scratch and skip when the world has moved on.
type Worker struct {
	svc *Service
}

func NewWorker(svc *Service) *Worker {
	return &Worker{svc: svc}
}

// Register hooks the handlers into an outbox worker.
func (w *Worker) Register(ow *outbox.Worker) {
	ow.Handle(outbox.TypeReservationNotifyNearExpiry, w.NotifyNearExpiry)
	ow.Handle(outbox.TypeReservationExpireHold, w.ExpireHold)
}

// NotifyNearExpiry sends the reminder email for a hold that is still pending
// shortly before its deadline. It only enqueues the email; the email job's
// dedupe key makes redelivery of this job harmless.
func (w *Worker) NotifyNearExpiry(ctx context.Context, job outbox.Job) (outbox.Outcome, error) {
	var p HoldJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return outbox.Outcome{}, err
	}
	s := w.svc
	now := time.Now()

	res, err := s.reservations.GetByID(ctx, s.db, p.ReservationID)
	if errors.Is(err, ErrNotFound) {
		return outbox.Skipped("NOT_FOUND"), nil
	}
	if err != nil {
		return outbox.Outcome{}, err
	}
	if res.Status != StatusPending {
		return outbox.Skipped("NOT_PENDING"), nil
	}
	if res.EndTime.Before(now) {
		// Past the deadline already; the expiry sweep owns it from here.
		return outbox.Skipped("NOT_DUE"), nil
	}

	u, err := s.users.GetUser(ctx, res.UserID)
	if errors.Is(err, user.ErrNotFound) {
		return outbox.Skipped("MISSING_USER"), nil
	}
	if err != nil {
		return outbox.Outcome{}, err
	}
	st, err := s.stations.GetStation(ctx, res.StationID)
	if errors.Is(err, station.ErrNotFound) {
		return outbox.Skipped("MISSING_STATION"), nil
	}
	if err != nil {
		return outbox.Outcome{}, err
	}
	b, err := s.bikes.GetBike(ctx, s.db, res.BikeID)
	if errors.Is(err, bike.ErrNotFound) {
		return outbox.Skipped("MISSING_BIKE"), nil
	}
	if err != nil {
		return outbox.Outcome{}, err
	}

	remaining := int(res.EndTime.Sub(now).Round(time.Minute) / time.Minute)
	msg := email.ReservationNearExpiry(u.Fullname.String, st.Name, b.Label, remaining)

	send, err := outbox.NewJob(outbox.TypeEmailSend, email.Payload{
		To:      u.Email.String,
		Subject: msg.Subject,
		Body:    msg.Body,
	}, now, fmt.Sprintf("reservation:near-expiry:%s", res.ID))
	if err != nil {
		return outbox.Outcome{}, err
	}
	if err := s.jobs.Enqueue(ctx, s.db, send); err != nil {
		return outbox.Outcome{}, err
	}
	return outbox.Done(), nil
}

// ExpireHold releases a hold whose deadline passed without a confirm. The
// conditional update is the arbiter: if a confirm or cancel got there first,
// zero rows change and the job skips.
func (w *Worker) ExpireHold(ctx context.Context, job outbox.Job) (outbox.Outcome, error) {
	var p HoldJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return outbox.Outcome{}, err
	}
	s := w.svc
	now := time.Now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return outbox.Outcome{}, err
	}
	defer tx.Rollback()

	res, err := s.reservations.GetByID(ctx, tx, p.ReservationID)
	if errors.Is(err, ErrNotFound) {
		return outbox.Skipped("NOT_FOUND"), nil
	}
	if err != nil {
		return outbox.Outcome{}, err
	}

	expired, err := s.reservations.ExpirePendingHold(ctx, tx, res.ID, now)
	if err != nil {
		return outbox.Outcome{}, err
	}
	if !expired {
		return outbox.Skipped("ALREADY_HANDLED"), nil
	}

	if _, err := s.rentals.CancelReserved(ctx, tx, res.ID, now); err != nil {
		return outbox.Outcome{}, err
	}
	if _, err := s.bikes.ReleaseIfReserved(ctx, tx, res.BikeID); err != nil {
		return outbox.Outcome{}, err
	}

	if err := tx.Commit(); err != nil {
		return outbox.Outcome{}, err
	}

	s.logger.Info("reservation expired", "reservationId", res.ID)

	// The expiry email rides its own outbox job so a crash here just means
	// a redelivery, and the dedupe key swallows the duplicate.
	if err := w.enqueueExpiredEmail(ctx, res, now); err != nil {
		s.logger.Warn("failed to enqueue expiry email", "reservationId", res.ID, "error", err)
	}
	return outbox.Done(), nil
}

func (w *Worker) enqueueExpiredEmail(ctx context.Context, res Reservation, now time.Time) error {
	s := w.svc

	u, err := s.users.GetUser(ctx, res.UserID)
	if err != nil {
		return err
	}
	st, err := s.stations.GetStation(ctx, res.StationID)
	if err != nil {
		return err
	}
	b, err := s.bikes.GetBike(ctx, s.db, res.BikeID)
	if err != nil {
		return err
	}
	msg := email.ReservationExpired(u.Fullname.String, st.Name, b.Label)

	send, err := outbox.NewJob(outbox.TypeEmailSend, email.Payload{
		To:      u.Email.String,
		Subject: msg.Subject,
		Body:    msg.Body,
	}, now, fmt.Sprintf("reservation:expired:%s", res.ID))
	if err != nil {
		return err
	}
	return s.jobs.Enqueue(ctx, s.db, send)
}
