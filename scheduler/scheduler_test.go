package scheduler

import (
	"testing"
	"time"
)

func TestParseWeekly(t *testing.T) {
	cases := []struct {
		in   string
		want Weekly
	}{
		{"周一 09:00", Weekly{Day: time.Monday, Hour: 9, Minute: 0}},
		{"周日 23:59", Weekly{Day: time.Sunday, Hour: 23, Minute: 59}},
		{"五 7:05", Weekly{Day: time.Friday, Hour: 7, Minute: 5}},
		{"Sat 18:30", Weekly{Day: time.Saturday, Hour: 18, Minute: 30}},
		{"someday 10:00", Weekly{Day: time.Monday, Hour: 10, Minute: 0}},
	}
	for _, tc := range cases {
		got, err := ParseWeekly(tc.in)
		if err != nil {
			t.Fatalf("ParseWeekly(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseWeekly(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestParseWeeklyInvalid(t *testing.T) {
	for _, in := range []string{"", "09:00", "周一 24:00", "周一 09:60", "周一 ab:00", "周一 0900", "周一 09:00 extra"} {
		if _, err := ParseWeekly(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestWeeklySpec(t *testing.T) {
	w := Weekly{Day: time.Wednesday, Hour: 9, Minute: 30}
	if got := w.Spec(); got != "30 9 * * 3" {
		t.Fatalf("unexpected spec %q", got)
	}
	if got := w.String(); got != "wed 09:30" {
		t.Fatalf("unexpected string %q", got)
	}
}

func TestUpdateTimeInvalid(t *testing.T) {
	s, err := New("周一 09:00", "UTC", func() {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.UpdateTime("周一 25:00"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNextIsOnConfiguredDay(t *testing.T) {
	s, err := New("周三 10:15", "UTC", func() {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	next := s.Next()
	if next.Weekday() != time.Wednesday || next.Hour() != 10 || next.Minute() != 15 {
		t.Fatalf("unexpected next run %v", next)
	}
	if err := s.UpdateTime("fri 08:00"); err != nil {
		t.Fatalf("UpdateTime: %v", err)
	}
	if next := s.Next(); next.Weekday() != time.Friday {
		t.Fatalf("expected friday after update, got %v", next)
	}
}

func TestNewInvalidTimezone(t *testing.T) {
	if _, err := New("周一 09:00", "Not/AZone", func() {}); err == nil {
		t.Fatalf("expected timezone error")
	}
}
