package trigger

import (
	"testing"
	"time"
)

func TestParseCron_Valid(t *testing.T) {
	valid := []string{
		"* * * * *",
		"0 9 * * 1-5",
		"*/15 * * * *",
		"0 0 1 1 *",
		"5,20,35,50 * * * *",
		"0 8-18/2 * * *",
		"30 2 15 6 0",
	}
	for _, expr := range valid {
		if _, err := ParseCron(expr); err != nil {
			t.Errorf("ParseCron(%q) error = %v, want nil", expr, err)
		}
	}
}

func TestParseCron_Invalid(t *testing.T) {
	invalid := []struct {
		expr string
		why  string
	}{
		{"* * * *", "four fields"},
		{"* * * * * *", "six fields"},
		{"60 * * * *", "minute out of range"},
		{"* 24 * * *", "hour out of range"},
		{"* * 0 * *", "day of month out of range"},
		{"* * * 13 *", "month out of range"},
		{"* * * * 7", "day of week out of range"},
		{"*/0 * * * *", "zero step"},
		{"10-5 * * * *", "reversed range"},
		{"a * * * *", "non-numeric"},
		{"1,,2 * * * *", "empty list element"},
		{"5/2 * * * *", "step on single value"},
	}
	for _, tt := range invalid {
		if _, err := ParseCron(tt.expr); err == nil {
			t.Errorf("ParseCron(%q) accepted (%s)", tt.expr, tt.why)
		}
	}
}

func TestCronNext(t *testing.T) {
	base := time.Date(2026, 3, 10, 8, 30, 45, 0, time.UTC) // a Tuesday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 3, 10, 8, 31, 0, 0, time.UTC)},
		{"0 9 * * *", time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 10, 8, 45, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		// Next Monday.
		{"0 9 * * 1", time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		s, err := ParseCron(tt.expr)
		if err != nil {
			t.Fatalf("ParseCron(%q) error = %v", tt.expr, err)
		}
		got := s.Next(base)
		if !got.Equal(tt.want) {
			t.Errorf("Next(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestCronNext_DayFieldsOr(t *testing.T) {
	// Both day fields restricted: standard cron fires on either.
	s, err := ParseCron("0 0 15 * 1")
	if err != nil {
		t.Fatal(err)
	}

	// 2026-03-10 is a Tuesday; next Monday is the 16th but the 15th
	// (a Sunday) matches day-of-month first.
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	got := s.Next(base)
	want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next() = %v, want %v (day-of-month branch)", got, want)
	}
}
