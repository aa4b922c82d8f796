// Package outbox is a durable, transactional record of deferred work. Rows are
// written in the same database transaction as the business mutation they
// accompany and later drained by a polling worker, which gives at-least-once
// delivery without ever calling a transport from inside a business transaction.
package outbox

import (
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	TypeEmailSend                   = "email.send"
	TypeReservationNotifyNearExpiry = "reservations.notifyNearExpiry"
	TypeReservationExpireHold       = "reservations.expireHold"
)

type JobStatus string

const (
	StatusPending JobStatus = "PENDING"
	StatusSent    JobStatus = "SENT"
	StatusFailed  JobStatus = "FAILED"
)

type Job struct {
	ID        uuid.UUID
	Type      string
	Payload   json.RawMessage
	RunAt     time.Time      `db:"run_at"`
	DedupeKey sql.NullString `db:"dedupe_key"`
	Status    JobStatus
	Attempts  int
	LockedAt  sql.NullTime   `db:"locked_at"`
	LockedBy  sql.NullString `db:"locked_by"`
	LastError sql.NullString `db:"last_error"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// NewJob builds a pending job. An empty dedupeKey means the job is never
// collapsed with another enqueue attempt.
func NewJob(jobType string, payload any, runAt time.Time, dedupeKey string) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, err
	}
	j := Job{
		ID:      uuid.New(),
		Type:    jobType,
		Payload: raw,
		RunAt:   runAt,
	}
	if dedupeKey != "" {
		j.DedupeKey = sql.NullString{String: dedupeKey, Valid: true}
	}
	return j, nil
}
