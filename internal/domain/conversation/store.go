package conversation

import (
	"context"
	"time"

	"github.com/clinic/clinic/internal/domain/booking"
)

// DefaultTTL is how long an idle conversation is kept.
const DefaultTTL = 30 * time.Minute

type Step string

const (
	StepSpecialty Step = "specialty"
	StepDate      Step = "date"
	StepTime      Step = "time"
	StepDoctor    Step = "doctor"
	StepName      Step = "name"
	StepCancel    Step = "cancel"
)

// State is one user's in-progress dialogue. Fields are filled as the user
// moves through the booking steps.
type State struct {
	UserID    string             `json:"user_id"`
	Step      Step               `json:"step"`
	Specialty booking.Specialty  `json:"specialty,omitempty"`
	Date      *booking.Date      `json:"date,omitempty"`
	Time      *booking.TimeOfDay `json:"time,omitempty"`
	Doctor    string             `json:"doctor,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (s *State) expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.UpdatedAt) > ttl
}

// Store keeps conversation state per user. Get returns nil, nil when the user
// has no live conversation. Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, userID string) (*State, error)
	Put(ctx context.Context, s *State) error
	Delete(ctx context.Context, userID string) error
	// Sweep evicts expired entries and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
}
