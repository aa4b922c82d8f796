package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Outcome is what a handler reports back. Skipped outcomes are not errors:
// they mean the world moved on and the job had nothing left to do.
type Outcome struct {
	Skipped bool
	Reason  string
}

func Done() Outcome {
	return Outcome{}
}

func Skipped(reason string) Outcome {
	return Outcome{Skipped: true, Reason: reason}
}

// Handler processes one claimed job. Jobs are delivered at least once, so
// handlers must re-validate preconditions from scratch on every delivery.
type Handler func(ctx context.Context, job Job) (Outcome, error)

type RetryOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

var DefaultRetryOptions = RetryOptions{
	MaxAttempts: 5,
	BaseDelay:   30 * time.Second,
	MaxDelay:    15 * time.Minute,
}

// RetryDelay computes the exponential backoff before the next attempt.
func RetryDelay(attempts int, opts RetryOptions) time.Duration {
	d := opts.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= opts.MaxDelay {
			return opts.MaxDelay
		}
	}
	return min(d, opts.MaxDelay)
}

type Worker struct {
	repo     *Repository
	workerID string
	handlers map[string]Handler
	logger   *slog.Logger
	interval time.Duration
	batch    int
	lockTTL  time.Duration
	retry    RetryOptions

	processed *prometheus.CounterVec
}

func NewWorker(repo *Repository, workerID string, logger *slog.Logger, reg *prometheus.Registry, interval time.Duration) *Worker {
	processed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_jobs_processed_total",
			Help: "Outbox jobs processed, by type and outcome",
		},
		[]string{"type", "outcome"},
	)
	reg.MustRegister(processed)

	return &Worker{
		repo:      repo,
		workerID:  workerID,
		handlers:  make(map[string]Handler),
		logger:    logger,
		interval:  interval,
		batch:     20,
		lockTTL:   5 * time.Minute,
		retry:     DefaultRetryOptions,
		processed: processed,
	}
}

// Handle registers the handler dispatched for a job type.
func (w *Worker) Handle(jobType string, h Handler) {
	w.handlers[jobType] = h
}

// Run polls until ctx is cancelled. Suspension happens between job executions,
// never mid-transaction.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.Tick(ctx); err != nil {
			w.logger.Error("outbox poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick claims and processes one batch of due jobs.
func (w *Worker) Tick(ctx context.Context) error {
	now := time.Now()
	jobs, err := w.repo.Claim(ctx, w.workerID, w.batch, now, w.lockTTL)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		w.process(ctx, job)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, job Job) {
	ctx, span := otel.Tracer("outbox").Start(ctx, "outbox.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.type", job.Type),
		attribute.String("job.id", job.ID.String()),
		attribute.Int("job.attempts", job.Attempts),
	)

	logger := w.logger.With("jobId", job.ID, "jobType", job.Type, "attempts", job.Attempts)

	handler, ok := w.handlers[job.Type]
	if !ok {
		logger.Error("no handler registered for job type")
		w.finishFailure(ctx, job, "no handler registered", logger)
		w.processed.WithLabelValues(job.Type, "unhandled").Inc()
		return
	}

	outcome, err := handler(ctx, job)
	if err != nil {
		logger.Error("job handler failed", "error", err)
		w.finishFailure(ctx, job, err.Error(), logger)
		w.processed.WithLabelValues(job.Type, "error").Inc()
		return
	}

	if err := w.repo.MarkSent(ctx, job.ID, w.workerID, time.Now()); err != nil {
		logger.Error("failed to mark job sent", "error", err)
		return
	}

	if outcome.Skipped {
		logger.Info("job skipped", "reason", outcome.Reason)
		w.processed.WithLabelValues(job.Type, "skipped").Inc()
		return
	}
	logger.Info("job processed")
	w.processed.WithLabelValues(job.Type, "done").Inc()
}

func (w *Worker) finishFailure(ctx context.Context, job Job, jobErr string, logger *slog.Logger) {
	now := time.Now()
	if job.Attempts >= w.retry.MaxAttempts {
		if err := w.repo.MarkFailed(ctx, job.ID, w.workerID, jobErr, now); err != nil {
			logger.Error("failed to mark job failed", "error", err)
		}
		return
	}
	runAt := now.Add(RetryDelay(job.Attempts, w.retry))
	if err := w.repo.Reschedule(ctx, job.ID, w.workerID, jobErr, runAt, now); err != nil {
		logger.Error("failed to reschedule job", "error", err)
	}
}
