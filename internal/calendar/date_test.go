package calendar

import (
	"testing"
	"time"
)

func TestNewNormalises(t *testing.T) {
	d := New(2025, time.January, 32)
	if d != (Date{2025, time.February, 1}) {
		t.Errorf("expected 2025-02-01, got %s", d)
	}
}

func TestParseAndString(t *testing.T) {
	d, err := Parse("2024-02-29")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "2024-02-29" {
		t.Errorf("expected 2024-02-29, got %s", d)
	}

	if _, err := Parse("29.02.2024"); err == nil {
		t.Error("expected error for non-ISO date")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b Date
		want int
	}{
		{New(2025, 3, 1), New(2025, 3, 1), 0},
		{New(2025, 2, 28), New(2025, 3, 1), -1},
		{New(2026, 1, 1), New(2025, 12, 31), 1},
	}
	for _, tt := range tests {
		if got := tt.a.Compare(tt.b); got != tt.want {
			t.Errorf("%s.Compare(%s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRange(t *testing.T) {
	days := Range(New(2024, 12, 30), New(2025, 1, 2))
	want := []string{"2024-12-30", "2024-12-31", "2025-01-01", "2025-01-02"}
	if len(days) != len(want) {
		t.Fatalf("expected %d days, got %d", len(want), len(days))
	}
	for i, d := range days {
		if d.String() != want[i] {
			t.Errorf("day %d: expected %s, got %s", i, want[i], d)
		}
	}

	if got := Range(New(2025, 1, 2), New(2025, 1, 1)); len(got) != 0 {
		t.Errorf("expected empty range, got %v", got)
	}
}

func TestUnmarshalText(t *testing.T) {
	var d Date
	if err := d.UnmarshalText([]byte("2025-06-15")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != New(2025, time.June, 15) {
		t.Errorf("unexpected date %s", d)
	}
	if err := d.UnmarshalText(nil); err != nil || !d.IsZero() {
		t.Errorf("expected zero date from empty input, got %s (%v)", d, err)
	}
}
