// Package email renders the reservation notices the worker enqueues and
// defines the transport used to deliver them.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Payload is the body of an outbox email.send job.
type Payload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type Message struct {
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, p Payload) error
}

// LogSender writes outgoing email to the log instead of a mail relay. Delivery
// mechanics live outside this engine.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, p Payload) error {
	s.Logger.Info("email dispatched", "to", p.To, "subject", p.Subject)
	return nil
}

const timeLabelLayout = "Mon 2 Jan 15:04"

func ReservationConfirmed(fullname, stationName, bikeLabel string, start, end time.Time) Message {
	return Message{
		Subject: "Your bike reservation is confirmed",
		Body: fmt.Sprintf(
			"Hi %s,\n\nBike %s is held for you at %s from %s. Pick it up before %s or the hold expires.\n",
			fullname, bikeLabel, stationName, start.Format(timeLabelLayout), end.Format(timeLabelLayout),
		),
	}
}

func ReservationNearExpiry(fullname, stationName, bikeLabel string, minutesRemaining int) Message {
	return Message{
		Subject: "Your bike reservation expires soon",
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour hold on bike %s at %s expires in about %d minutes. Confirm it to keep the bike.\n",
			fullname, bikeLabel, stationName, minutesRemaining,
		),
	}
}

func ReservationExpired(fullname, stationName, bikeLabel string) Message {
	return Message{
		Subject: "Your bike reservation has expired",
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour hold on bike %s at %s has expired and the bike was released.\n",
			fullname, bikeLabel, stationName,
		),
	}
}
