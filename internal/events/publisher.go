package events

import (
	"context"
	"log/slog"
	"time"
)

const (
	TopicAppointmentBooked = "booking.appointment.booked.v1"
)

type Event struct {
	ID         string
	Type       string
	Key        string
	Payload    []byte
	OccurredAt time.Time
}

// Publisher delivers domain events. Delivery is best-effort: callers log failures
// and never roll back on them.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// LogPublisher writes events to the logger. Used when no brokers are configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.logger.Info("event published",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"key", ev.Key,
		"bytes", len(ev.Payload),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
