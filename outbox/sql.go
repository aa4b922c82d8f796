package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Enqueue inserts a job inside the caller's transaction. A duplicate dedupe
// key collapses silently into the earlier enqueue.
func (r *Repository) Enqueue(ctx context.Context, q sqlx.ExtContext, j Job) error {
	_, err := q.ExecContext(ctx, enqueueQuery, j.ID, j.Type, j.Payload, j.RunAt, j.DedupeKey)
	return err
}

const enqueueQuery = `
INSERT INTO job_outbox (id, type, payload, run_at, dedupe_key)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (dedupe_key) DO NOTHING
`

// Claim locks up to limit due jobs for this worker and bumps their attempt
// counts. SKIP LOCKED keeps concurrent workers from blocking on each other;
// the lock TTL reclaims jobs whose worker died mid-flight.
func (r *Repository) Claim(ctx context.Context, workerID string, limit int, now time.Time, lockTTL time.Duration) ([]Job, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var jobs []Job
	err = tx.SelectContext(ctx, &jobs, claimSelectQuery, now, now.Add(-lockTTL), limit)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]uuid.UUID, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
		jobs[i].Attempts = j.Attempts + 1
	}

	query, args, err := sqlx.In(claimLockQuery, now, workerID, now, ids)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return nil, err
	}

	return jobs, tx.Commit()
}

const claimSelectQuery = `
SELECT * FROM job_outbox
WHERE status = 'PENDING'
  AND run_at <= $1
  AND (locked_at IS NULL OR locked_at < $2)
ORDER BY run_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`

const claimLockQuery = `
UPDATE job_outbox
SET locked_at = ?, locked_by = ?, attempts = attempts + 1, updated_at = ?
WHERE id IN (?)
`

func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, workerID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, markSentQuery, id, workerID, now)
	return err
}

const markSentQuery = `
UPDATE job_outbox
SET status = 'SENT', locked_at = NULL, locked_by = NULL, updated_at = $3
WHERE id = $1 AND locked_by = $2
`

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, workerID, jobErr string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, markFailedQuery, id, workerID, jobErr, now)
	return err
}

const markFailedQuery = `
UPDATE job_outbox
SET status = 'FAILED', last_error = $3, locked_at = NULL, locked_by = NULL, updated_at = $4
WHERE id = $1 AND locked_by = $2
`

// Reschedule releases the lock and pushes run_at into the future after a
// handler error, leaving the job PENDING for a later attempt.
func (r *Repository) Reschedule(ctx context.Context, id uuid.UUID, workerID, jobErr string, runAt, now time.Time) error {
	_, err := r.db.ExecContext(ctx, rescheduleQuery, id, workerID, jobErr, runAt, now)
	return err
}

const rescheduleQuery = `
UPDATE job_outbox
SET status = 'PENDING', run_at = $4, last_error = $3, locked_at = NULL, locked_by = NULL, updated_at = $5
WHERE id = $1 AND locked_by = $2
`

// PendingByDedupeKey is a test hook: it fetches a pending job by its dedupe key.
func (r *Repository) PendingByDedupeKey(ctx context.Context, key string) (*Job, error) {
	var jobs []Job
	err := r.db.SelectContext(ctx, &jobs, pendingByDedupeKeyQuery, key)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return &jobs[0], nil
}

const pendingByDedupeKeyQuery = `SELECT * FROM job_outbox WHERE dedupe_key = $1`
