package conversation

import (
	"context"
	"sync"

	"github.com/clinic/clinic/internal/domain/booking"
)

// fakeBooker backs the real validator with in-memory hours and appointments.
type fakeBooker struct {
	mu      sync.Mutex
	today   booking.Date
	hours   map[string]map[booking.Weekday][]booking.TimeRange
	appts   []*booking.Appointment
	nextID  int64
	err     error
	bookErr error
}

func newFakeBooker() *fakeBooker {
	today, _ := booking.ParseDate(booking.DateLayout, "2025-01-01")
	return &fakeBooker{today: today, hours: map[string]map[booking.Weekday][]booking.TimeRange{}}
}

func (f *fakeBooker) addHours(doctor string, w booking.Weekday, start, end string) {
	s, _ := booking.ParseTimeOfDay(start)
	e, _ := booking.ParseTimeOfDay(end)
	if f.hours[doctor] == nil {
		f.hours[doctor] = map[booking.Weekday][]booking.TimeRange{}
	}
	f.hours[doctor][w] = append(f.hours[doctor][w], booking.TimeRange{Start: s, End: e})
}

func (f *fakeBooker) seed(a *booking.Appointment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	a.ID = f.nextID
	f.appts = append(f.appts, a)
}

func (f *fakeBooker) GetAvailability(_ context.Context, doctor string, w booking.Weekday) ([]booking.TimeRange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.hours[doctor][w], nil
}

func (f *fakeBooker) GetConflictingAppointment(_ context.Context, doctor string, d booking.Date, t booking.TimeOfDay, excludingID *int64) (*booking.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.appts {
		if excludingID != nil && a.ID == *excludingID {
			continue
		}
		if a.DoctorName == doctor && a.Date == d && a.Time == t {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeBooker) Today() booking.Date { return f.today }

func (f *fakeBooker) Check(ctx context.Context, doctor string, d booking.Date, t booking.TimeOfDay, excludingID *int64) (booking.Decision, error) {
	return booking.NewValidator(f, f).Validate(ctx, doctor, d, t, excludingID)
}

func (f *fakeBooker) DoctorsOn(_ context.Context, d booking.Date) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for name, days := range f.hours {
		if len(days[booking.WeekdayOf(d)]) > 0 {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeBooker) Book(ctx context.Context, a *booking.Appointment) error {
	if f.bookErr != nil {
		return f.bookErr
	}
	d, err := f.Check(ctx, a.DoctorName, a.Date, a.Time, nil)
	if err != nil {
		return err
	}
	if err := d.Err(); err != nil {
		return err
	}
	f.seed(a)
	return nil
}

func (f *fakeBooker) ListByOwner(_ context.Context, ownerID string) ([]*booking.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*booking.Appointment
	for _, a := range f.appts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeBooker) Cancel(_ context.Context, id int64, ownerID string) (*booking.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for i, a := range f.appts {
		if a.ID == id && (ownerID == "" || a.OwnerID == ownerID) {
			f.appts = append(f.appts[:i], f.appts[i+1:]...)
			return a, nil
		}
	}
	return nil, booking.ErrNotFound
}
