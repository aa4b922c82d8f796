package acceptance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"

	"github.com/mebike/rental-backend/bike"
	"github.com/mebike/rental-backend/rental"
)

func TestRentalLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u := h.createUser(t, 20000)
	stationID := h.createStation(t, "Central")
	bikeID := h.createBike(t, "B-01", stationID)

	start := time.Now().Add(-45 * time.Minute)
	rt, err := h.RentalSvc.Start(ctx, rental.StartInput{
		UserID:         u.ID,
		BikeID:         bikeID,
		StartStationID: stationID,
		StartTime:      start,
	})
	if err != nil {
		t.Fatalf("failed to start rental: %v", err)
	}
	if rt.Status != rental.StatusRented {
		t.Fatalf("expected RENTED rental, got %s", rt.Status)
	}
	if got := h.bikeStatus(t, bikeID); got != bike.StatusBooked {
		t.Fatalf("expected bike BOOKED, got %s", got)
	}

	// A second start by the same user must fail while the first is live.
	otherBike := h.createBike(t, "B-02", stationID)
	if _, err := h.RentalSvc.Start(ctx, rental.StartInput{
		UserID:         u.ID,
		BikeID:         otherBike,
		StartStationID: stationID,
		StartTime:      time.Now(),
	}); !errors.Is(err, rental.ErrActiveRentalExists) {
		t.Fatalf("expected ErrActiveRentalExists, got %v", err)
	}

	// 45 minutes is two 30-minute blocks.
	ended, err := h.RentalSvc.End(ctx, rental.EndInput{
		UserID:       u.ID,
		RentalID:     rt.ID,
		EndStationID: stationID,
		EndTime:      time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to end rental: %v", err)
	}
	if ended.Status != rental.StatusCompleted {
		t.Fatalf("expected COMPLETED rental, got %s", spew.Sdump(ended))
	}
	if ended.TotalPrice.Int64 != 2*testPricePer30 {
		t.Fatalf("expected price %d, got %d", 2*testPricePer30, ended.TotalPrice.Int64)
	}
	if got := h.walletBalance(t, u.ID); got != 20000-2*testPricePer30 {
		t.Fatalf("expected balance %d, got %d", 20000-2*testPricePer30, got)
	}
	if got := h.bikeStatus(t, bikeID); got != bike.StatusAvailable {
		t.Fatalf("expected bike AVAILABLE after end, got %s", got)
	}

	// Ending twice reports the rental as already ended and charges nothing.
	if _, err := h.RentalSvc.End(ctx, rental.EndInput{
		UserID:       u.ID,
		RentalID:     rt.ID,
		EndStationID: stationID,
		EndTime:      time.Now(),
	}); !errors.Is(err, rental.ErrAlreadyEnded) {
		t.Fatalf("expected ErrAlreadyEnded, got %v", err)
	}
	if got := h.walletBalance(t, u.ID); got != 20000-2*testPricePer30 {
		t.Fatalf("double end changed balance to %d", got)
	}
}

func TestRentalStartInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u := h.createUser(t, testMinBalance-1)
	stationID := h.createStation(t, "Central")
	bikeID := h.createBike(t, "B-01", stationID)

	_, err := h.RentalSvc.Start(ctx, rental.StartInput{
		UserID:         u.ID,
		BikeID:         bikeID,
		StartStationID: stationID,
		StartTime:      time.Now(),
	})
	if !errors.Is(err, rental.ErrInsufficientBalanceToRent) {
		t.Fatalf("expected ErrInsufficientBalanceToRent, got %v", err)
	}

	// The rejected start must leave nothing behind.
	var n int
	if err := h.DB.Get(&n, `SELECT count(*) FROM rentals`); err != nil || n != 0 {
		t.Fatalf("expected no rental rows, got %d (err %v)", n, err)
	}
	if got := h.bikeStatus(t, bikeID); got != bike.StatusAvailable {
		t.Fatalf("expected bike AVAILABLE, got %s", got)
	}
}

func TestRentalStartWrongStation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u := h.createUser(t, 20000)
	homeStation := h.createStation(t, "Central")
	otherStation := h.createStation(t, "North")
	bikeID := h.createBike(t, "B-01", homeStation)

	_, err := h.RentalSvc.Start(ctx, rental.StartInput{
		UserID:         u.ID,
		BikeID:         bikeID,
		StartStationID: otherStation,
		StartTime:      time.Now(),
	})
	if !errors.Is(err, rental.ErrBikeNotFoundInStation) {
		t.Fatalf("expected ErrBikeNotFoundInStation, got %v", err)
	}
}

// Two users grabbing the same bike at the same instant: exactly one rental
// wins, the other gets a typed failure, never a raw constraint error.
func TestConcurrentStartSingleWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u1 := h.createUser(t, 20000)
	u2 := h.createUser(t, 20000)
	stationID := h.createStation(t, "Central")
	bikeID := h.createBike(t, "B-01", stationID)

	users := []uuid.UUID{u1.ID, u2.ID}
	errs := make([]error, len(users))

	var wg sync.WaitGroup
	for i, userID := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.RentalSvc.Start(ctx, rental.StartInput{
				UserID:         userID,
				BikeID:         bikeID,
				StartStationID: stationID,
				StartTime:      time.Now(),
			})
		}()
	}
	wg.Wait()

	var winners, losers int
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, rental.ErrBikeAlreadyRented),
			errors.Is(err, rental.ErrBikeIsReserved),
			isUniqueViolation(err):
			losers++
		default:
			t.Fatalf("unexpected failure: %v", err)
		}
	}
	if winners != 1 || losers != 1 {
		t.Fatalf("expected one winner and one loser, got %d/%d: %s", winners, losers, spew.Sdump(errs))
	}

	var n int
	if err := h.DB.Get(&n, `SELECT count(*) FROM rentals WHERE status = 'RENTED'`); err != nil || n != 1 {
		t.Fatalf("expected exactly one RENTED row, got %d (err %v)", n, err)
	}
}

func isUniqueViolation(err error) bool {
	var uv *rental.UniqueViolationError
	return errors.As(err, &uv)
}
