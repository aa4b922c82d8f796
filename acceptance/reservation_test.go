package acceptance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"

	"github.com/mebike/rental-backend/bike"
	"github.com/mebike/rental-backend/outbox"
	"github.com/mebike/rental-backend/rental"
	"github.com/mebike/rental-backend/reservation"
)

func (h *harness) reserve(t *testing.T, userID, bikeID, stationID uuid.UUID) reservation.Reservation {
	t.Helper()
	res, err := h.ReservationSvc.Reserve(context.Background(), reservation.ReserveInput{
		UserID:    userID,
		BikeID:    bikeID,
		StationID: stationID,
		Option:    reservation.OptionOneTime,
		StartTime: time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to reserve: %v", err)
	}
	return res
}

func (h *harness) jobRunAt(t *testing.T, dedupeKey string) time.Time {
	t.Helper()
	var runAt time.Time
	if err := h.DB.Get(&runAt, `SELECT run_at FROM job_outbox WHERE dedupe_key = $1`, dedupeKey); err != nil {
		t.Fatalf("no job with dedupe key %q: %v", dedupeKey, err)
	}
	return runAt
}

func TestReserveHoldsBikeAndSchedulesJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u := h.createUser(t, 20000)
	stationID := h.createStation(t, "Central")
	bikeID := h.createBike(t, "B-01", stationID)

	res := h.reserve(t, u.ID, bikeID, stationID)

	if res.Status != reservation.StatusPending {
		t.Fatalf("expected PENDING hold, got %s", res.Status)
	}
	if res.Prepaid != testPrepaidAmount {
		t.Fatalf("expected prepaid %d, got %d", testPrepaidAmount, res.Prepaid)
	}
	if got := h.walletBalance(t, u.ID); got != 20000-testPrepaidAmount {
		t.Fatalf("expected balance %d, got %d", 20000-testPrepaidAmount, got)
	}
	if got := h.bikeStatus(t, bikeID); got != bike.StatusReserved {
		t.Fatalf("expected bike RESERVED, got %s", got)
	}

	// The mirrored rental shares the reservation id.
	mirrored, err := h.Rentals.GetByID(ctx, h.DB, res.ID)
	if err != nil {
		t.Fatalf("mirrored rental missing: %v", err)
	}
	if mirrored.Status != rental.StatusReserved {
		t.Fatalf("expected RESERVED rental, got %s", spew.Sdump(mirrored))
	}

	// Confirmation now, reminder five minutes before the deadline, expiry at
	// the deadline.
	notifyAt := h.jobRunAt(t, fmt.Sprintf("reservation:notify:%s", res.ID))
	expireAt := h.jobRunAt(t, fmt.Sprintf("reservation:expire:%s", res.ID))
	h.jobRunAt(t, fmt.Sprintf("reservation:confirm:%s", res.ID))

	if d := expireAt.Sub(res.EndTime).Abs(); d > time.Second {
		t.Fatalf("expire job scheduled %s away from hold deadline", d)
	}
	wantNotify := res.EndTime.Add(-testNotifyMinutes * time.Minute)
	if d := notifyAt.Sub(wantNotify).Abs(); d > time.Second {
		t.Fatalf("notify job scheduled %s away from expected time", d)
	}

	// Holding a second bike while this hold is live must fail.
	otherBike := h.createBike(t, "B-02", stationID)
	if _, err := h.ReservationSvc.Reserve(ctx, reservation.ReserveInput{
		UserID:    u.ID,
		BikeID:    otherBike,
		StationID: stationID,
		Option:    reservation.OptionOneTime,
		StartTime: time.Now(),
	}); !errors.Is(err, rental.ErrActiveRentalExists) {
		t.Fatalf("expected ErrActiveRentalExists, got %v", err)
	}
}

func TestReserveInsufficientBalanceLeavesNothing(t *testing.T) {
	h := newHarness(t)

	u := h.createUser(t, testPrepaidAmount-1)
	stationID := h.createStation(t, "Central")
	bikeID := h.createBike(t, "B-01", stationID)

	_, err := h.ReservationSvc.Reserve(context.Background(), reservation.ReserveInput{
		UserID:    u.ID,
		BikeID:    bikeID,
		StationID: stationID,
		Option:    reservation.OptionOneTime,
		StartTime: time.Now(),
	})
	if err == nil {
		t.Fatal("expected reserve to fail")
	}

	for _, table := range []string{"reservations", "rentals", "job_outbox"} {
		var n int
		if err := h.DB.Get(&n, `SELECT count(*) FROM `+table); err != nil || n != 0 {
			t.Fatalf("expected empty %s, got %d rows (err %v)", table, n, err)
		}
	}
	if got := h.bikeStatus(t, bikeID); got != bike.StatusAvailable {
		t.Fatalf("expected bike AVAILABLE, got %s", got)
	}
	if got := h.walletBalance(t, u.ID); got != testPrepaidAmount-1 {
		t.Fatalf("balance changed to %d", got)
	}
}

func TestConfirmTurnsHoldIntoRental(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u := h.createUser(t, 20000)
	stationID := h.createStation(t, "Central")
	bikeID := h.createBike(t, "B-01", stationID)

	res := h.reserve(t, u.ID, bikeID, stationID)

	confirmed, err := h.ReservationSvc.Confirm(ctx, reservation.ConfirmInput{
		UserID:        u.ID,
		ReservationID: res.ID,
		Now:           time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to confirm: %v", err)
	}
	if confirmed.Status != reservation.StatusActive {
		t.Fatalf("expected ACTIVE reservation, got %s", confirmed.Status)
	}

	mirrored, err := h.Rentals.GetByID(ctx, h.DB, res.ID)
	if err != nil {
		t.Fatalf("mirrored rental missing: %v", err)
	}
	if mirrored.Status != rental.StatusRented {
		t.Fatalf("expected RENTED rental after confirm, got %s", mirrored.Status)
	}
	if got := h.bikeStatus(t, bikeID); got != bike.StatusBooked {
		t.Fatalf("expected bike BOOKED, got %s", got)
	}

	// Confirming twice is a conflict, not a second rental.
	if _, err := h.ReservationSvc.Confirm(ctx, reservation.ConfirmInput{
		UserID:        u.ID,
		ReservationID: res.ID,
		Now:           time.Now(),
	}); !errors.Is(err, reservation.ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}

	// Ending the rental within one block costs nothing beyond the prepaid.
	ended, err := h.RentalSvc.End(ctx, rental.EndInput{
		UserID:       u.ID,
		RentalID:     res.ID,
		EndStationID: stationID,
		EndTime:      time.Now().Add(20 * time.Minute),
	})
	if err != nil {
		t.Fatalf("failed to end rental: %v", err)
	}
	if ended.TotalPrice.Int64 != 0 {
		t.Fatalf("expected zero price after prepaid credit, got %d", ended.TotalPrice.Int64)
	}
	if got := h.walletBalance(t, u.ID); got != 20000-testPrepaidAmount {
		t.Fatalf("expected balance %d, got %d", 20000-testPrepaidAmount, got)
	}
}

func TestCancelRefundsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u := h.createUser(t, 20000)
	stationID := h.createStation(t, "Central")
	bikeID := h.createBike(t, "B-01", stationID)

	res := h.reserve(t, u.ID, bikeID, stationID)

	cancelled, err := h.ReservationSvc.Cancel(ctx, reservation.CancelInput{
		UserID:        u.ID,
		ReservationID: res.ID,
		Now:           time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to cancel: %v", err)
	}
	if cancelled.Status != reservation.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	if got := h.walletBalance(t, u.ID); got != 20000 {
		t.Fatalf("expected full refund, balance is %d", got)
	}
	if got := h.bikeStatus(t, bikeID); got != bike.StatusAvailable {
		t.Fatalf("expected bike AVAILABLE, got %s", got)
	}

	mirrored, err := h.Rentals.GetByID(ctx, h.DB, res.ID)
	if err != nil {
		t.Fatalf("mirrored rental missing: %v", err)
	}
	if mirrored.Status != rental.StatusCancelled {
		t.Fatalf("expected CANCELLED rental, got %s", mirrored.Status)
	}

	// A second cancel must not refund again.
	if _, err := h.ReservationSvc.Cancel(ctx, reservation.CancelInput{
		UserID:        u.ID,
		ReservationID: res.ID,
		Now:           time.Now(),
	}); !errors.Is(err, reservation.ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
	if got := h.walletBalance(t, u.ID); got != 20000 {
		t.Fatalf("double cancel changed balance to %d", got)
	}
}

func TestExpireHoldReleasesBikeWithoutRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u := h.createUser(t, 20000)
	stationID := h.createStation(t, "Central")
	bikeID := h.createBike(t, "B-01", stationID)

	res := h.reserve(t, u.ID, bikeID, stationID)

	h.rewindHoldDeadline(t, res.ID)
	h.makeJobDue(t, fmt.Sprintf("reservation:expire:%s", res.ID))

	if err := h.Worker.Tick(ctx); err != nil {
		t.Fatalf("worker tick failed: %v", err)
	}

	after, err := h.ReservationSvc.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("failed to reload reservation: %v", err)
	}
	if after.Status != reservation.StatusExpired {
		t.Fatalf("expected EXPIRED, got %s", after.Status)
	}
	if got := h.bikeStatus(t, bikeID); got != bike.StatusAvailable {
		t.Fatalf("expected bike AVAILABLE after expiry, got %s", got)
	}

	mirrored, err := h.Rentals.GetByID(ctx, h.DB, res.ID)
	if err != nil {
		t.Fatalf("mirrored rental missing: %v", err)
	}
	if mirrored.Status != rental.StatusCancelled {
		t.Fatalf("expected CANCELLED rental after expiry, got %s", mirrored.Status)
	}

	// Expiry keeps the prepaid amount.
	if got := h.walletBalance(t, u.ID); got != 20000-testPrepaidAmount {
		t.Fatalf("expiry refunded: balance %d", got)
	}

	// The worker queued the expiry notice.
	var n int
	if err := h.DB.Get(&n, `SELECT count(*) FROM job_outbox WHERE dedupe_key = $1`,
		fmt.Sprintf("reservation:expired:%s", res.ID)); err != nil || n != 1 {
		t.Fatalf("expected one expiry email job, got %d (err %v)", n, err)
	}

	// An expired hold cannot be confirmed.
	if _, err := h.ReservationSvc.Confirm(ctx, reservation.ConfirmInput{
		UserID:        u.ID,
		ReservationID: res.ID,
		Now:           time.Now(),
	}); !errors.Is(err, reservation.ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestExpireAfterConfirmIsNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u := h.createUser(t, 20000)
	stationID := h.createStation(t, "Central")
	bikeID := h.createBike(t, "B-01", stationID)

	res := h.reserve(t, u.ID, bikeID, stationID)

	if _, err := h.ReservationSvc.Confirm(ctx, reservation.ConfirmInput{
		UserID:        u.ID,
		ReservationID: res.ID,
		Now:           time.Now(),
	}); err != nil {
		t.Fatalf("failed to confirm: %v", err)
	}

	h.makeJobDue(t, fmt.Sprintf("reservation:expire:%s", res.ID))
	if err := h.Worker.Tick(ctx); err != nil {
		t.Fatalf("worker tick failed: %v", err)
	}

	after, err := h.ReservationSvc.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("failed to reload reservation: %v", err)
	}
	if after.Status != reservation.StatusActive {
		t.Fatalf("expiry sweep touched a confirmed hold: %s", after.Status)
	}
	if got := h.bikeStatus(t, bikeID); got != bike.StatusBooked {
		t.Fatalf("expected bike to stay BOOKED, got %s", got)
	}

	// The job is spent, not stuck pending.
	var status string
	if err := h.DB.Get(&status, `SELECT status FROM job_outbox WHERE dedupe_key = $1`,
		fmt.Sprintf("reservation:expire:%s", res.ID)); err != nil {
		t.Fatalf("failed to read job status: %v", err)
	}
	if status != string(outbox.StatusSent) {
		t.Fatalf("expected expire job SENT, got %s", status)
	}
}

func TestNearExpiryReminderEnqueuesEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u := h.createUser(t, 20000)
	stationID := h.createStation(t, "Central")
	bikeID := h.createBike(t, "B-01", stationID)

	res := h.reserve(t, u.ID, bikeID, stationID)

	h.makeJobDue(t, fmt.Sprintf("reservation:notify:%s", res.ID))
	if err := h.Worker.Tick(ctx); err != nil {
		t.Fatalf("worker tick failed: %v", err)
	}

	var n int
	if err := h.DB.Get(&n, `SELECT count(*) FROM job_outbox WHERE dedupe_key = $1`,
		fmt.Sprintf("reservation:near-expiry:%s", res.ID)); err != nil || n != 1 {
		t.Fatalf("expected one reminder email job, got %d (err %v)", n, err)
	}
}
