package booking

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// -- Mock Repositories --

type mockAvailabilityRepo struct {
	mu     sync.Mutex
	slots  map[int64]*AvailabilitySlot
	nextID int64
	err    error
}

func newMockAvailabilityRepo() *mockAvailabilityRepo {
	return &mockAvailabilityRepo{slots: make(map[int64]*AvailabilitySlot)}
}

func (m *mockAvailabilityRepo) add(doctor string, w Weekday, start, end string) *AvailabilitySlot {
	s, _ := ParseTimeOfDay(start)
	e, _ := ParseTimeOfDay(end)
	sl := &AvailabilitySlot{DoctorName: doctor, Weekday: w, StartTime: s, EndTime: e}
	_ = m.Create(context.Background(), sl)
	return sl
}

func (m *mockAvailabilityRepo) GetAvailability(_ context.Context, doctorName string, weekday Weekday) ([]TimeRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []TimeRange
	for _, s := range m.slots {
		if s.DoctorName == doctorName && s.Weekday == weekday {
			out = append(out, s.Range())
		}
	}
	return out, nil
}

func (m *mockAvailabilityRepo) Create(_ context.Context, s *AvailabilitySlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.nextID++
	s.ID = m.nextID
	s.CreatedAt = time.Now()
	cp := *s
	m.slots[s.ID] = &cp
	return nil
}

func (m *mockAvailabilityRepo) GetByID(_ context.Context, id int64) (*AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockAvailabilityRepo) Update(_ context.Context, s *AvailabilitySlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[s.ID]; !ok {
		return ErrNotFound
	}
	cp := *s
	m.slots[s.ID] = &cp
	return nil
}

func (m *mockAvailabilityRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[id]; !ok {
		return ErrNotFound
	}
	delete(m.slots, id)
	return nil
}

func (m *mockAvailabilityRepo) ListByDoctor(_ context.Context, doctorName string) ([]*AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*AvailabilitySlot
	for _, s := range m.slots {
		if doctorName == "" || s.DoctorName == doctorName {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockAvailabilityRepo) ListDoctors(_ context.Context, weekday Weekday) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	seen := map[string]bool{}
	var out []string
	for _, s := range m.slots {
		if s.Weekday == weekday && !seen[s.DoctorName] {
			seen[s.DoctorName] = true
			out = append(out, s.DoctorName)
		}
	}
	sort.Strings(out)
	return out, nil
}

// mockAppointmentRepo enforces the (doctor, date, time) uniqueness the
// database constraint provides.
type mockAppointmentRepo struct {
	mu     sync.Mutex
	appts  map[int64]*Appointment
	nextID int64
	err    error
	// beforeCreate runs without the lock held, letting tests interleave
	// concurrent bookings between the check and the insert.
	beforeCreate func()
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{appts: make(map[int64]*Appointment)}
}

func (m *mockAppointmentRepo) takenLocked(a *Appointment) bool {
	for _, o := range m.appts {
		if o.ID != a.ID && o.DoctorName == a.DoctorName && o.Date == a.Date && o.Time == a.Time {
			return true
		}
	}
	return false
}

func (m *mockAppointmentRepo) GetConflictingAppointment(_ context.Context, doctorName string, date Date, t TimeOfDay, excludingID *int64) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, a := range m.appts {
		if excludingID != nil && a.ID == *excludingID {
			continue
		}
		if a.DoctorName == doctorName && a.Date == date && a.Time == t {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	if m.beforeCreate != nil {
		m.beforeCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.takenLocked(a) {
		return ErrSlotAlreadyBooked
	}
	m.nextID++
	a.ID = m.nextID
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id int64) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.appts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if m.takenLocked(a) {
		return ErrSlotAlreadyBooked
	}
	a.OwnerID = old.OwnerID
	a.CreatedAt = old.CreatedAt
	a.UpdatedAt = time.Now()
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[id]; !ok {
		return ErrNotFound
	}
	delete(m.appts, id)
	return nil
}

func (m *mockAppointmentRepo) sorted(keep func(*Appointment) bool) []*Appointment {
	var out []*Appointment
	for _, a := range m.appts {
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *mockAppointmentRepo) ListByOwner(_ context.Context, ownerID string) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.sorted(func(a *Appointment) bool { return a.OwnerID == ownerID }), nil
}

func (m *mockAppointmentRepo) ListByDate(_ context.Context, date Date) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.sorted(func(a *Appointment) bool { return a.Date == date }), nil
}

func (m *mockAppointmentRepo) Search(_ context.Context, term string, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	term = strings.ToLower(term)
	all := m.sorted(func(a *Appointment) bool {
		return term == "" ||
			strings.Contains(strings.ToLower(a.PatientName), term) ||
			strings.Contains(strings.ToLower(string(a.Specialty)), term) ||
			strings.Contains(strings.ToLower(a.DoctorName), term)
	})
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
	err     error
}

func (r *recordingNotifier) Notify(_ context.Context, c Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return r.err
}

func (r *recordingNotifier) all() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

var errStoreDown = errors.New("connection refused")

// fixed "now": Wednesday 2025-01-01 10:00 UTC
var testNow = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func mustDate(s string) Date {
	d, err := ParseDate(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func mustTime(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

type testEnv struct {
	svc      *Service
	avail    *mockAvailabilityRepo
	appts    *mockAppointmentRepo
	notifier *recordingNotifier
}

func newTestEnv() *testEnv {
	avail := newMockAvailabilityRepo()
	appts := newMockAppointmentRepo()
	n := &recordingNotifier{}
	svc := NewService(avail, appts, passthroughTx{},
		WithNotifiers(n),
		WithClock(func() time.Time { return testNow }),
	)
	return &testEnv{svc: svc, avail: avail, appts: appts, notifier: n}
}

func newTestService() *Service { return newTestEnv().svc }
