package acceptance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mebike/rental-backend/bike"
	"github.com/mebike/rental-backend/internal/email"
	"github.com/mebike/rental-backend/outbox"
	"github.com/mebike/rental-backend/rental"
	"github.com/mebike/rental-backend/reservation"
	"github.com/mebike/rental-backend/station"
	"github.com/mebike/rental-backend/subscription"
	"github.com/mebike/rental-backend/user"
	"github.com/mebike/rental-backend/wallet"
)

// The suite runs against a live postgres and is skipped when DATABASE_URL is
// not set.
type harness struct {
	DB *sqlx.DB

	Bikes         *bike.Repository
	Stations      *station.Repository
	Users         *user.Repository
	Wallets       *wallet.Repository
	Subscriptions *subscription.Repository
	Rentals       *rental.Repository
	Reservations  *reservation.Repository
	Jobs          *outbox.Repository

	RentalSvc      *rental.Service
	ReservationSvc *reservation.Service
	Worker         *outbox.Worker
}

const (
	testMinBalance    = 2000
	testPricePer30    = 5000
	testPrepaidAmount = 5000
	testHoldMinutes   = 15
	testNotifyMinutes = 5
)

func newHarness(t *testing.T) *harness {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	db, err := sqlx.Connect("pgx", dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	applySchema(t, db)
	cleanupTestData(t, db)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		DB:            db,
		Bikes:         bike.NewRepository(db),
		Stations:      station.NewRepository(db),
		Users:         user.NewRepository(db),
		Wallets:       wallet.NewRepository(db),
		Subscriptions: subscription.NewRepository(db),
		Rentals:       rental.NewRepository(db),
		Reservations:  reservation.NewRepository(db),
		Jobs:          outbox.NewRepository(db),
	}

	h.RentalSvc = rental.NewService(db, h.Rentals, h.Bikes, h.Wallets, rental.Config{
		MinBalanceToRent: testMinBalance,
		Pricing: rental.Pricing{
			PricePer30Min: testPricePer30,
			PenaltyHours:  24,
			PenaltyAmount: 50000,
		},
	}, logger)

	h.ReservationSvc = reservation.NewService(db,
		h.Reservations, h.Rentals, h.Bikes, h.Wallets, h.Subscriptions, h.Users, h.Stations, h.Jobs,
		reservation.Config{
			Hold: reservation.Hold{
				HoldMinutes:   testHoldMinutes,
				NotifyMinutes: testNotifyMinutes,
			},
			PrepaidAmount:     testPrepaidAmount,
			RefundPeriodHours: 24,
		}, logger)

	h.Worker = outbox.NewWorker(h.Jobs, "acceptance-worker", logger, prometheus.NewRegistry(), time.Second)
	h.Worker.Handle(outbox.TypeEmailSend, email.NewOutboxHandler(email.LogSender{Logger: logger}))
	reservation.NewWorker(h.ReservationSvc).Register(h.Worker)

	return h
}

func applySchema(t *testing.T, db *sqlx.DB) {
	t.Helper()
	schema, err := os.ReadFile("../schema.sql")
	if err != nil {
		t.Fatalf("failed to read schema: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
}

func cleanupTestData(t *testing.T, db *sqlx.DB) {
	t.Helper()

	// Delete in order of dependencies
	for _, table := range []string{
		"job_outbox", "reservations", "rentals", "subscriptions",
		"wallet_transactions", "wallets", "bikes", "stations", "users",
	} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Logf("warning: failed to clean %s: %v", table, err)
		}
	}
}

func (h *harness) createUser(t *testing.T, balance int64) *user.User {
	t.Helper()
	u, err := h.Users.CreateUser(context.Background(),
		fmt.Sprintf("auth0|%s", uuid.New()), fmt.Sprintf("%s@example.com", uuid.New()), "Test Rider")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if balance != 0 {
		if _, err := h.DB.Exec(`UPDATE wallets SET balance = $2 WHERE user_id = $1`, u.ID, balance); err != nil {
			t.Fatalf("failed to fund wallet: %v", err)
		}
	}
	return u
}

func (h *harness) createStation(t *testing.T, name string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := h.DB.Get(&id, `
		INSERT INTO stations (id, name, address, capacity, location)
		VALUES (gen_random_uuid(), $1, 'Test Address', 10, point(0, 0))
		RETURNING id
	`, name)
	if err != nil {
		t.Fatalf("failed to create test station: %v", err)
	}
	return id
}

func (h *harness) createBike(t *testing.T, label string, stationID uuid.UUID) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := h.DB.Get(&id, `
		INSERT INTO bikes (id, label, station_id, status)
		VALUES (gen_random_uuid(), $1, $2, 'AVAILABLE')
		RETURNING id
	`, label, stationID)
	if err != nil {
		t.Fatalf("failed to create test bike: %v", err)
	}
	return id
}

func (h *harness) bikeStatus(t *testing.T, id uuid.UUID) bike.Status {
	t.Helper()
	b, err := h.Bikes.GetBike(context.Background(), h.DB, id)
	if err != nil {
		t.Fatalf("failed to load bike: %v", err)
	}
	return b.Status
}

func (h *harness) walletBalance(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	w, err := h.Wallets.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to load wallet: %v", err)
	}
	return w.Balance
}

// makeJobDue rewinds a job's run_at so the next worker tick claims it. The
// hold deadline is rewound alongside when asked, since expiry only fires past
// end_time.
func (h *harness) makeJobDue(t *testing.T, dedupeKey string) {
	t.Helper()
	res, err := h.DB.Exec(`UPDATE job_outbox SET run_at = now() - interval '1 minute' WHERE dedupe_key = $1`, dedupeKey)
	if err != nil {
		t.Fatalf("failed to reschedule job: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("expected one job with dedupe key %q, got %d", dedupeKey, n)
	}
}

func (h *harness) rewindHoldDeadline(t *testing.T, reservationID uuid.UUID) {
	t.Helper()
	if _, err := h.DB.Exec(`UPDATE reservations SET end_time = now() - interval '1 minute' WHERE id = $1`, reservationID); err != nil {
		t.Fatalf("failed to rewind hold deadline: %v", err)
	}
}

func (h *harness) countJobs(t *testing.T, jobType string) int {
	t.Helper()
	var n int
	if err := h.DB.Get(&n, `SELECT count(*) FROM job_outbox WHERE type = $1`, jobType); err != nil {
		t.Fatalf("failed to count jobs: %v", err)
	}
	return n
}
