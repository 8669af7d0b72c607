package booking

import (
	"encoding/json"
	"testing"
	"time"
)

func TestWeekdayOf_KnownDates(t *testing.T) {
	tests := []struct {
		date string
		want Weekday
	}{
		{"2025-01-06", Monday},
		{"2025-01-07", Tuesday},
		{"2025-01-08", Wednesday},
		{"2025-01-09", Thursday},
		{"2025-01-10", Friday},
		{"2025-01-11", Saturday},
		{"2025-01-12", Sunday},
		{"2024-02-29", Thursday},
	}
	for _, tt := range tests {
		if got := WeekdayOf(mustDate(tt.date)); got != tt.want {
			t.Errorf("WeekdayOf(%s) = %s, want %s", tt.date, got, tt.want)
		}
	}
}

func TestWeekdayOf_Deterministic(t *testing.T) {
	d := mustDate("2025-03-15")
	first := WeekdayOf(d)
	for i := 0; i < 100; i++ {
		if got := WeekdayOf(d); got != first {
			t.Fatalf("WeekdayOf changed between calls: %s then %s", first, got)
		}
	}
}

func TestWeekdayOf_MatchesCalendar(t *testing.T) {
	start := mustDate("2024-01-01")
	for i := 0; i < 400; i++ {
		d := start.AddDays(i)
		want := d.Time().Weekday()
		got := WeekdayOf(d)
		if want == time.Sunday {
			if got != Sunday {
				t.Fatalf("%s: expected Sunday, got %s", d, got)
			}
			continue
		}
		if int(got) != int(want) {
			t.Fatalf("%s: expected %s, got %s", d, want, got)
		}
	}
}

func TestParseWeekday(t *testing.T) {
	for _, w := range Weekdays {
		got, err := ParseWeekday(w.String())
		if err != nil || got != w {
			t.Errorf("ParseWeekday(%q) = %v, %v", w.String(), got, err)
		}
	}
	if got, err := ParseWeekday(" monday "); err != nil || got != Monday {
		t.Errorf("expected case-insensitive parse, got %v, %v", got, err)
	}
	if _, err := ParseWeekday("Segunda-feira"); err == nil {
		t.Error("expected error for unknown label")
	}
}

func TestWeekday_String_Invalid(t *testing.T) {
	if got := Weekday(0).String(); got != "Weekday(0)" {
		t.Errorf("unexpected label %q", got)
	}
	if _, err := Weekday(9).MarshalText(); err == nil {
		t.Error("expected marshal error for invalid weekday")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"09:00", "09:00", false},
		{"9:05", "09:05", false},
		{"23:59", "23:59", false},
		{"00:00", "00:00", false},
		{"14:30:00", "14:30", false},
		{"14:30:15", "", true},
		{"24:00", "", true},
		{"12:60", "", true},
		{"noon", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTimeOfDay(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTimeOfDay(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseTimeOfDay(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate(ChatDateLayout, "06/01/2025")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != (Date{Year: 2025, Month: time.January, Day: 6}) {
		t.Errorf("unexpected date %+v", d)
	}
	if d.String() != "2025-01-06" {
		t.Errorf("unexpected string %s", d)
	}
	if _, err := ParseDate(DateLayout, "2025-02-30"); err == nil {
		t.Error("expected error for non-existent date")
	}
	if _, err := ParseDate(ChatDateLayout, "2025-01-06"); err == nil {
		t.Error("expected error for wrong layout")
	}
}

func TestParseChatDate(t *testing.T) {
	want := Date{Year: 2025, Month: time.January, Day: 6}
	for _, in := range []string{"6/1/2025", "06/01/2025", "6/01/2025", "06/1/2025"} {
		d, err := ParseChatDate(in)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", in, err)
		}
		if d != want {
			t.Errorf("%q: unexpected date %+v", in, d)
		}
	}
	for _, in := range []string{"2025-01-06", "31/02/2025", "6/13/2025", ""} {
		if _, err := ParseChatDate(in); err == nil {
			t.Errorf("%q: expected error", in)
		}
	}
}

func TestDate_Before(t *testing.T) {
	a, b := mustDate("2024-12-31"), mustDate("2025-01-01")
	if !a.Before(b) || b.Before(a) || a.Before(a) {
		t.Error("unexpected ordering")
	}
}

func TestTimeRange_ContainsInclusive(t *testing.T) {
	r := TimeRange{Start: mustTime("09:00"), End: mustTime("12:00")}
	for _, in := range []string{"09:00", "10:30", "12:00"} {
		if !r.Contains(mustTime(in)) {
			t.Errorf("expected %s inside %s-%s", in, r.Start, r.End)
		}
	}
	for _, out := range []string{"08:59", "12:01"} {
		if r.Contains(mustTime(out)) {
			t.Errorf("expected %s outside %s-%s", out, r.Start, r.End)
		}
	}
}

func TestParseSpecialty(t *testing.T) {
	if s, err := ParseSpecialty("pediatrics"); err != nil || s != Pediatrics {
		t.Errorf("expected Pediatrics, got %v, %v", s, err)
	}
	if _, err := ParseSpecialty("Neurology"); err == nil {
		t.Error("expected error for unknown specialty")
	}
}

func TestCanonicalDoctorName(t *testing.T) {
	tests := map[string]string{
		"Dra. Ana Souza ":  "Ana Souza",
		"Dr. João Pereira": "João Pereira",
		"dr carlos lima":   "carlos lima",
		"  Ana Souza":      "Ana Souza",
		"Drake Ramos":      "Drake Ramos",
		"Dr.":              "Dr.",
	}
	for in, want := range tests {
		if got := CanonicalDoctorName(in); got != want {
			t.Errorf("CanonicalDoctorName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAppointment_JSON(t *testing.T) {
	a := Appointment{ID: 7, PatientName: "Maria", Specialty: Cardiology, DoctorName: "Ana Souza",
		Date: mustDate("2025-01-06"), Time: mustTime("09:30")}
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["date"] != "2025-01-06" || m["time"] != "09:30" {
		t.Errorf("unexpected wire format: %s", b)
	}
}
