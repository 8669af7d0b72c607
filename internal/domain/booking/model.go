package booking

import (
	"fmt"
	"strings"
	"time"
)

// Weekday is the fixed seven-day enumeration shared by the availability table
// and every caller. Labels never depend on the process locale.
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayLabels = [...]string{
	Monday:    "Monday",
	Tuesday:   "Tuesday",
	Wednesday: "Wednesday",
	Thursday:  "Thursday",
	Friday:    "Friday",
	Saturday:  "Saturday",
	Sunday:    "Sunday",
}

// Weekdays lists the enumeration in calendar order starting on Monday.
var Weekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

func (w Weekday) Valid() bool { return w >= Monday && w <= Sunday }

func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(w))
	}
	return weekdayLabels[w]
}

func ParseWeekday(s string) (Weekday, error) {
	s = strings.TrimSpace(s)
	for _, w := range Weekdays {
		if strings.EqualFold(weekdayLabels[w], s) {
			return w, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

func (w Weekday) MarshalText() ([]byte, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("invalid weekday %d", int(w))
	}
	return []byte(w.String()), nil
}

func (w *Weekday) UnmarshalText(b []byte) error {
	v, err := ParseWeekday(string(b))
	if err != nil {
		return err
	}
	*w = v
	return nil
}

// fromTimeWeekday maps the Go calendar index (Sunday = 0) onto Weekday.
func fromTimeWeekday(d time.Weekday) Weekday {
	if d == time.Sunday {
		return Sunday
	}
	return Weekday(d)
}

// TimeOfDay is a wall-clock time in whole minutes since midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid time %02d:%02d", hour, minute)
	}
	return TimeOfDay(hour*60 + minute), nil
}

// ParseTimeOfDay accepts 24h "HH:MM" (and "HH:MM:SS" with zero seconds, as
// Postgres prints TIME values).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	if t.Second() != 0 {
		return 0, fmt.Errorf("invalid time %q, seconds are not supported", s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) Valid() bool { return t >= 0 && t < minutesPerDay }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute()) }

// Duration converts to the offset from midnight.
func (t TimeOfDay) Duration() time.Duration { return time.Duration(t) * time.Minute }

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Date is a calendar date with no time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const (
	DateLayout     = "2006-01-02"
	ChatDateLayout = "02/01/2006"
)

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses s with layout and rejects dates that do not exist.
func ParseDate(layout, s string) (Date, error) {
	t, err := time.Parse(layout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	return DateOf(t), nil
}

// ParseChatDate reads a day-first date typed by a person; day and month may
// have one or two digits ("6/1/2025" or "06/01/2025").
func ParseChatDate(s string) (Date, error) {
	return ParseDate("2/1/2006", s)
}

// Time returns midnight UTC of d.
func (d Date) Time() time.Time { return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC) }

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) Weekday() Weekday { return WeekdayOf(d) }

func (d Date) AddDays(n int) Date { return DateOf(d.Time().AddDate(0, 0, n)) }

func (d Date) Before(o Date) bool { return d.Time().Before(o.Time()) }

func (d Date) String() string { return d.Time().Format(DateLayout) }

// Format renders d with a time layout, e.g. ChatDateLayout.
func (d Date) Format(layout string) string { return d.Time().Format(layout) }

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	v, err := ParseDate(DateLayout, string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// WeekdayOf is the single date-to-weekday mapping every caller uses.
func WeekdayOf(d Date) Weekday { return fromTimeWeekday(d.Time().Weekday()) }

// Specialty is the closed set of specialties the clinic books.
type Specialty string

const (
	Cardiology  Specialty = "Cardiology"
	Dermatology Specialty = "Dermatology"
	Gynecology  Specialty = "Gynecology"
	Pediatrics  Specialty = "Pediatrics"
)

var Specialties = []Specialty{Cardiology, Dermatology, Gynecology, Pediatrics}

func (s Specialty) Valid() bool {
	for _, v := range Specialties {
		if s == v {
			return true
		}
	}
	return false
}

func ParseSpecialty(s string) (Specialty, error) {
	s = strings.TrimSpace(s)
	for _, v := range Specialties {
		if strings.EqualFold(string(v), s) {
			return v, nil
		}
	}
	return "", fmt.Errorf("invalid specialty %q", s)
}

// TimeRange is an inclusive [Start, End] window within one day.
type TimeRange struct {
	Start TimeOfDay `json:"start_time"`
	End   TimeOfDay `json:"end_time"`
}

func (r TimeRange) Contains(t TimeOfDay) bool { return r.Start <= t && t <= r.End }

// AvailabilitySlot is one declared weekly working window of a doctor.
type AvailabilitySlot struct {
	ID         int64     `db:"id" json:"id"`
	DoctorName string    `db:"doctor_name" json:"doctor_name"`
	Weekday    Weekday   `db:"weekday" json:"weekday"`
	StartTime  TimeOfDay `db:"start_time" json:"start_time"`
	EndTime    TimeOfDay `db:"end_time" json:"end_time"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

func (s *AvailabilitySlot) Range() TimeRange { return TimeRange{Start: s.StartTime, End: s.EndTime} }

// Appointment is a booked (doctor, date, time) slot.
type Appointment struct {
	ID          int64     `db:"id" json:"id"`
	PatientName string    `db:"patient_name" json:"patient_name"`
	Specialty   Specialty `db:"specialty" json:"specialty"`
	DoctorName  string    `db:"doctor_name" json:"doctor_name"`
	Date        Date      `db:"date" json:"date"`
	Time        TimeOfDay `db:"time" json:"time"`
	OwnerID     string    `db:"owner_id" json:"owner_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

var honorifics = []string{"Dra.", "Dr.", "Dra", "Dr"}

// CanonicalDoctorName trims s and drops one leading honorific. The remaining
// name is kept whole; both tables store this form.
func CanonicalDoctorName(s string) string {
	s = strings.TrimSpace(s)
	for _, h := range honorifics {
		if len(s) > len(h) && strings.EqualFold(s[:len(h)], h) && s[len(h)] == ' ' {
			return strings.TrimSpace(s[len(h):])
		}
	}
	return s
}
