package hours_test

import (
	"testing"
	"time"

	"slate/internal/rules/hours"
)

func lateNightWindow() hours.Window {
	return hours.Window{
		Enabled: true,
		Start:   22 * 60,
		End:     6 * 60,
		Weekdays: map[int]struct{}{
			5: {}, // Fri
			6: {}, // Sat
			7: {}, // Sun
		},
	}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		input   string
		minutes int
		wantErr bool
	}{
		{"22:00", 22 * 60, false},
		{"06:30", 6*60 + 30, false},
		{"00:00", 0, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"noon", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := hours.ParseClock(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q): expected error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q): %v", tc.input, err)
			continue
		}
		if got != tc.minutes {
			t.Errorf("ParseClock(%q) = %d, want %d", tc.input, got, tc.minutes)
		}
	}
}

func TestMidnightCrossingWindow(t *testing.T) {
	window := lateNightWindow()

	// 2026-01-02 is a Friday.
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"friday late evening", time.Date(2026, 1, 2, 23, 30, 0, 0, time.UTC), true},
		{"saturday morning after window", time.Date(2026, 1, 3, 7, 0, 0, 0, time.UTC), false},
		{"saturday early, carried over from friday", time.Date(2026, 1, 3, 5, 30, 0, 0, time.UTC), true},
		{"window start boundary", time.Date(2026, 1, 2, 22, 0, 0, 0, time.UTC), true},
		{"window end boundary excluded", time.Date(2026, 1, 3, 6, 0, 0, 0, time.UTC), false},
		{"midweek evening outside weekday set", time.Date(2026, 1, 6, 23, 30, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := window.Matches(tc.at); got != tc.want {
				t.Fatalf("Matches(%s) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestCarryOverUsesStartDay(t *testing.T) {
	// Monday-only late window: Tuesday 01:00 belongs to Monday night.
	window := hours.Window{
		Enabled:  true,
		Start:    22 * 60,
		End:      2 * 60,
		Weekdays: map[int]struct{}{1: {}},
	}

	// 2026-01-05 is a Monday.
	monday := time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC)
	tuesdayCarry := time.Date(2026, 1, 6, 1, 0, 0, 0, time.UTC)
	tuesdayNight := time.Date(2026, 1, 6, 23, 0, 0, 0, time.UTC)

	if !window.Matches(monday) {
		t.Fatal("expected Monday 23:00 to match")
	}
	if !window.Matches(tuesdayCarry) {
		t.Fatal("expected Tuesday 01:00 to match as Monday carry-over")
	}
	if window.Matches(tuesdayNight) {
		t.Fatal("expected Tuesday 23:00 not to match")
	}
}

func TestSameDayWindow(t *testing.T) {
	window := hours.Window{
		Enabled:  true,
		Start:    9 * 60,
		End:      17 * 60,
		Weekdays: map[int]struct{}{1: {}, 2: {}, 3: {}, 4: {}, 5: {}},
	}

	inside := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)  // Monday noon
	before := time.Date(2026, 1, 5, 8, 59, 0, 0, time.UTC)  // Monday 08:59
	weekend := time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC) // Sunday noon

	if !window.Matches(inside) {
		t.Fatal("expected Monday noon to match")
	}
	if window.Matches(before) {
		t.Fatal("expected Monday 08:59 not to match")
	}
	if window.Matches(weekend) {
		t.Fatal("expected Sunday noon not to match")
	}
}

func TestDisabledWindowAlwaysMatches(t *testing.T) {
	var window hours.Window
	if !window.Matches(time.Date(2026, 1, 4, 3, 0, 0, 0, time.UTC)) {
		t.Fatal("disabled window should match any time")
	}
}

func TestISOWeekday(t *testing.T) {
	// 2026-01-04 is a Sunday.
	if got := hours.ISOWeekday(time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC)); got != 7 {
		t.Fatalf("expected Sunday to map to 7, got %d", got)
	}
	if got := hours.ISOWeekday(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)); got != 1 {
		t.Fatalf("expected Monday to map to 1, got %d", got)
	}
}
