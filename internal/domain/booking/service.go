package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/events"
)

const maxNameLen = 200

type Service struct {
	availability AvailabilityRepository
	appointments AppointmentRepository
	validator    *Validator
	tx           TxRunner
	notifiers    []Notifier
	now          func() time.Time
	loc          *time.Location
	logger       zerolog.Logger
}

type Option func(*Service)

func WithNotifiers(n ...Notifier) Option {
	return func(s *Service) { s.notifiers = append(s.notifiers, n...) }
}

// WithClock overrides time.Now, used to decide which dates are in the past.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLocation sets the clinic time zone. Defaults to UTC.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(avail AvailabilityRepository, appts AppointmentRepository, tx TxRunner, opts ...Option) *Service {
	s := &Service{
		availability: avail,
		appointments: appts,
		validator:    NewValidator(avail, appts),
		tx:           tx,
		now:          time.Now,
		loc:          time.UTC,
		logger:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Validator returns the validator every booking path goes through.
func (s *Service) Validator() *Validator { return s.validator }

// Today is the current date in the clinic time zone.
func (s *Service) Today() Date { return DateOf(s.now().In(s.loc)) }

// Location is the clinic time zone.
func (s *Service) Location() *time.Location { return s.loc }

// Check is a read-only availability check.
func (s *Service) Check(ctx context.Context, doctorName string, date Date, t TimeOfDay, excludingID *int64) (Decision, error) {
	return s.validator.Validate(ctx, doctorName, date, t, excludingID)
}

// -- Appointments --

func (s *Service) normalize(a *Appointment) error {
	a.PatientName = strings.TrimSpace(a.PatientName)
	a.DoctorName = strings.TrimSpace(a.DoctorName)
	if a.PatientName == "" {
		return invalid("patient_name is required")
	}
	if len(a.PatientName) > maxNameLen {
		return invalid("patient_name is too long")
	}
	if a.DoctorName == "" {
		return invalid("doctor_name is required")
	}
	if !a.Specialty.Valid() {
		return invalid("invalid specialty %q", a.Specialty)
	}
	if a.Date.IsZero() {
		return invalid("date is required")
	}
	if !a.Time.Valid() {
		return invalid("invalid time")
	}
	return nil
}

// Book validates and inserts a inside one transaction. Rejections come back
// as *RejectedError; store failures wrap ErrStoreUnavailable.
func (s *Service) Book(ctx context.Context, a *Appointment) error {
	if err := s.normalize(a); err != nil {
		return err
	}
	if a.Date.Before(s.Today()) {
		return invalid("date %s is in the past", a.Date)
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.checkSlot(ctx, a, nil); err != nil {
			return err
		}
		if err := s.appointments.Create(ctx, a); err != nil {
			return s.writeErr("create appointment", a, err)
		}
		return nil
	})
	if err != nil {
		return s.classify(err)
	}

	s.logger.Info().Int64("appointment_id", a.ID).Str("doctor", a.DoctorName).
		Str("date", a.Date.String()).Str("time", a.Time.String()).Msg("appointment booked")
	s.notify(ctx, events.AppointmentBooked, a)
	return nil
}

// Reschedule replaces every editable field of appointment id. The
// appointment's own slot does not count as a conflict.
func (s *Service) Reschedule(ctx context.Context, id int64, a *Appointment) error {
	if err := s.normalize(a); err != nil {
		return err
	}
	if a.Date.Before(s.Today()) {
		return invalid("date %s is in the past", a.Date)
	}
	a.ID = id

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.appointments.GetByID(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return err
			}
			return storeErr("get appointment", err)
		}
		if err := s.checkSlot(ctx, a, &id); err != nil {
			return err
		}
		if err := s.appointments.Update(ctx, a); err != nil {
			return s.writeErr("update appointment", a, err)
		}
		return nil
	})
	if err != nil {
		return s.classify(err)
	}

	s.logger.Info().Int64("appointment_id", id).Msg("appointment rescheduled")
	s.notify(ctx, events.AppointmentUpdated, a)
	return nil
}

// Cancel deletes appointment id. A non-empty ownerID restricts the delete to
// that owner's appointments; someone else's id looks like a missing one.
func (s *Service) Cancel(ctx context.Context, id int64, ownerID string) (*Appointment, error) {
	var cancelled *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return err
			}
			return storeErr("get appointment", err)
		}
		if ownerID != "" && a.OwnerID != ownerID {
			return ErrNotFound
		}
		if err := s.appointments.Delete(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return err
			}
			return storeErr("delete appointment", err)
		}
		cancelled = a
		return nil
	})
	if err != nil {
		return nil, s.classify(err)
	}

	s.logger.Info().Int64("appointment_id", id).Msg("appointment cancelled")
	s.notify(ctx, events.AppointmentCancelled, cancelled)
	return cancelled, nil
}

func (s *Service) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, storeErr("get appointment", err)
	}
	return a, err
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*Appointment, error) {
	items, err := s.appointments.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, storeErr("list appointments", err)
	}
	return items, nil
}

func (s *Service) ListByDate(ctx context.Context, date Date) ([]*Appointment, error) {
	items, err := s.appointments.ListByDate(ctx, date)
	if err != nil {
		return nil, storeErr("list appointments", err)
	}
	return items, nil
}

// Search matches term against patient, specialty and doctor, ordered by date
// and time.
func (s *Service) Search(ctx context.Context, term string, limit, offset int) ([]*Appointment, int, error) {
	items, total, err := s.appointments.Search(ctx, term, limit, offset)
	if err != nil {
		return nil, 0, storeErr("search appointments", err)
	}
	return items, total, nil
}

func (s *Service) checkSlot(ctx context.Context, a *Appointment, excludingID *int64) error {
	d, err := s.validator.Validate(ctx, a.DoctorName, a.Date, a.Time, excludingID)
	if err != nil {
		return err
	}
	return d.Err()
}

// writeErr turns a uniqueness violation into the same rejection the validator
// would have produced had it seen the competing row.
func (s *Service) writeErr(op string, a *Appointment, err error) error {
	if errors.Is(err, ErrSlotAlreadyBooked) {
		s.logger.Debug().Str("doctor", a.DoctorName).Msg("slot taken by concurrent booking")
		return Decision{
			Reason:     ReasonSlotAlreadyBooked,
			DoctorName: a.DoctorName,
			Weekday:    WeekdayOf(a.Date),
			Date:       a.Date,
			Time:       a.Time,
		}.Err()
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return storeErr(op, err)
}

func (s *Service) classify(err error) error {
	var rejected *RejectedError
	switch {
	case errors.As(err, &rejected),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrStoreUnavailable):
		return err
	}
	return storeErr("transaction", err)
}

func (s *Service) notify(ctx context.Context, t events.Type, a *Appointment) {
	c := Change{Type: t, Appointment: *a}
	for _, n := range s.notifiers {
		if err := n.Notify(ctx, c); err != nil {
			s.logger.Warn().Err(err).Str("event", string(t)).Int64("appointment_id", a.ID).Msg("notify failed")
		}
	}
}

// -- Availability --

func (s *Service) normalizeSlot(sl *AvailabilitySlot) error {
	sl.DoctorName = strings.TrimSpace(sl.DoctorName)
	if sl.DoctorName == "" {
		return invalid("doctor_name is required")
	}
	if len(sl.DoctorName) > maxNameLen {
		return invalid("doctor_name is too long")
	}
	if !sl.Weekday.Valid() {
		return invalid("invalid weekday")
	}
	if !sl.StartTime.Valid() || !sl.EndTime.Valid() {
		return invalid("invalid time range")
	}
	if sl.StartTime > sl.EndTime {
		return invalid("start_time %s is after end_time %s", sl.StartTime, sl.EndTime)
	}
	return nil
}

func (s *Service) AddAvailability(ctx context.Context, sl *AvailabilitySlot) error {
	if err := s.normalizeSlot(sl); err != nil {
		return err
	}
	if err := s.availability.Create(ctx, sl); err != nil {
		return storeErr("create availability", err)
	}
	s.logger.Info().Int64("slot_id", sl.ID).Str("doctor", sl.DoctorName).
		Str("weekday", sl.Weekday.String()).Msg("availability added")
	return nil
}

func (s *Service) GetAvailabilitySlot(ctx context.Context, id int64) (*AvailabilitySlot, error) {
	sl, err := s.availability.GetByID(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, storeErr("get availability", err)
	}
	return sl, err
}

func (s *Service) ReplaceAvailability(ctx context.Context, id int64, sl *AvailabilitySlot) error {
	if err := s.normalizeSlot(sl); err != nil {
		return err
	}
	sl.ID = id
	if err := s.availability.Update(ctx, sl); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return storeErr("update availability", err)
	}
	return nil
}

func (s *Service) DeleteAvailability(ctx context.Context, id int64) error {
	if err := s.availability.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return storeErr("delete availability", err)
	}
	return nil
}

// ListAvailability lists slots for doctorName, or every slot when empty.
func (s *Service) ListAvailability(ctx context.Context, doctorName string) ([]*AvailabilitySlot, error) {
	items, err := s.availability.ListByDoctor(ctx, strings.TrimSpace(doctorName))
	if err != nil {
		return nil, storeErr("list availability", err)
	}
	return items, nil
}

// DoctorsOn lists doctors with at least one window on the weekday of date.
func (s *Service) DoctorsOn(ctx context.Context, date Date) ([]string, error) {
	names, err := s.availability.ListDoctors(ctx, WeekdayOf(date))
	if err != nil {
		return nil, storeErr("list doctors", err)
	}
	return names, nil
}
