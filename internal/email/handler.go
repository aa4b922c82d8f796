package email

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/mebike/rental-backend/outbox"
)

// NewOutboxHandler adapts a Sender into the handler for email.send jobs.
func NewOutboxHandler(sender Sender) outbox.Handler {
	return func(ctx context.Context, job outbox.Job) (outbox.Outcome, error) {
		var p Payload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return outbox.Outcome{}, err
		}
		if p.To == "" {
			return outbox.Skipped("NO_RECIPIENT"), nil
		}
		if err := sender.Send(ctx, p); err != nil {
			return outbox.Outcome{}, err
		}
		return outbox.Done(), nil
	}
}
