package booking

import (
	"context"
	"fmt"
	"strings"
)

type Reason string

const (
	ReasonNone                Reason = ""
	ReasonOutsideWorkingHours Reason = "outside_working_hours"
	ReasonSlotAlreadyBooked   Reason = "slot_already_booked"
)

// Decision is the outcome of Validate. A rejection names its reason and the
// facts the caller needs to explain it.
type Decision struct {
	Accepted   bool      `json:"accepted"`
	Reason     Reason    `json:"reason,omitempty"`
	DoctorName string    `json:"doctor_name"`
	Weekday    Weekday   `json:"weekday"`
	Date       Date      `json:"date"`
	Time       TimeOfDay `json:"time"`
}

func (d Decision) Message() string {
	switch d.Reason {
	case ReasonOutsideWorkingHours:
		return fmt.Sprintf("%s does not work on %s at %s", d.DoctorName, d.Weekday, d.Time)
	case ReasonSlotAlreadyBooked:
		return fmt.Sprintf("%s is already booked on %s at %s", d.DoctorName, d.Date, d.Time)
	}
	return "slot available"
}

// Err returns nil for an accepted decision and a *RejectedError otherwise.
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return &RejectedError{Decision: d}
}

// Validator decides whether a doctor can take an appointment at a date and
// time. It holds no state and never writes.
type Validator struct {
	availability AvailabilityReader
	appointments AppointmentReader
}

func NewValidator(availability AvailabilityReader, appointments AppointmentReader) *Validator {
	return &Validator{availability: availability, appointments: appointments}
}

// Validate checks working hours first, then conflicts. excludingID leaves one
// appointment out of the conflict check so an edit does not collide with
// itself. Store failures come back as errors wrapping ErrStoreUnavailable.
func (v *Validator) Validate(ctx context.Context, doctorName string, date Date, t TimeOfDay, excludingID *int64) (Decision, error) {
	doctorName = strings.TrimSpace(doctorName)
	if doctorName == "" {
		return Decision{}, invalid("doctor_name is required")
	}
	if date.IsZero() {
		return Decision{}, invalid("date is required")
	}
	if !t.Valid() {
		return Decision{}, invalid("time %d is out of range", int(t))
	}

	weekday := WeekdayOf(date)
	d := Decision{DoctorName: doctorName, Weekday: weekday, Date: date, Time: t}

	ranges, err := v.availability.GetAvailability(ctx, doctorName, weekday)
	if err != nil {
		return Decision{}, storeErr("get availability", err)
	}
	if !anyContains(ranges, t) {
		d.Reason = ReasonOutsideWorkingHours
		return d, nil
	}

	conflict, err := v.appointments.GetConflictingAppointment(ctx, doctorName, date, t, excludingID)
	if err != nil {
		return Decision{}, storeErr("get conflicting appointment", err)
	}
	if conflict != nil {
		d.Reason = ReasonSlotAlreadyBooked
		return d, nil
	}

	d.Accepted = true
	return d, nil
}

func anyContains(ranges []TimeRange, t TimeOfDay) bool {
	for _, r := range ranges {
		if r.Contains(t) {
			return true
		}
	}
	return false
}
