package booking

import "context"

// AvailabilityReader returns the declared windows for an exact, case-sensitive
// doctor name on one weekday. No match is an empty result, not an error.
type AvailabilityReader interface {
	GetAvailability(ctx context.Context, doctorName string, weekday Weekday) ([]TimeRange, error)
}

// AppointmentReader returns the appointment occupying (doctor, date, time),
// ignoring excludingID when set. No match is (nil, nil).
type AppointmentReader interface {
	GetConflictingAppointment(ctx context.Context, doctorName string, date Date, t TimeOfDay, excludingID *int64) (*Appointment, error)
}

type AvailabilityRepository interface {
	AvailabilityReader
	Create(ctx context.Context, s *AvailabilitySlot) error
	GetByID(ctx context.Context, id int64) (*AvailabilitySlot, error)
	Update(ctx context.Context, s *AvailabilitySlot) error
	Delete(ctx context.Context, id int64) error
	ListByDoctor(ctx context.Context, doctorName string) ([]*AvailabilitySlot, error)
	// ListDoctors returns the distinct doctor names with at least one window
	// on weekday.
	ListDoctors(ctx context.Context, weekday Weekday) ([]string, error)
}

// AppointmentRepository persists appointments. Create and Update return an
// error wrapping ErrSlotAlreadyBooked when the (doctor, date, time) uniqueness
// guard fires; GetByID, Update and Delete return ErrNotFound for unknown ids.
type AppointmentRepository interface {
	AppointmentReader
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id int64) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id int64) error
	ListByOwner(ctx context.Context, ownerID string) ([]*Appointment, error)
	ListByDate(ctx context.Context, date Date) ([]*Appointment, error)
	Search(ctx context.Context, term string, limit, offset int) ([]*Appointment, int, error)
}

// TxRunner runs fn atomically. The Postgres implementation opens a
// serializable transaction and carries it on the context.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
