// Package events publishes appointment lifecycle and reminder events for the
// chat transport and other consumers.
package events

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Type string

const (
	AppointmentBooked    Type = "appointment.booked"
	AppointmentUpdated   Type = "appointment.updated"
	AppointmentCancelled Type = "appointment.cancelled"
	ReminderDue          Type = "reminder.due"
)

// Event is the JSON envelope sent on the wire. Type doubles as routing key.
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	OwnerID    string          `json:"owner_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// New builds an event with a fresh id. payload must be JSON-encodable.
func New(t Type, ownerID string, payload interface{}) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		OwnerID:    ownerID,
		Payload:    body,
	}, nil
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct {
	Logger zerolog.Logger
}

func (p NopPublisher) Publish(_ context.Context, ev Event) error {
	p.Logger.Debug().Str("event_id", ev.ID).Str("type", string(ev.Type)).Msg("event dropped: broker disabled")
	return nil
}

func (NopPublisher) Close() error { return nil }
