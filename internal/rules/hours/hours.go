// Package hours evaluates recurring weekly time windows.
package hours

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a compiled active-hours restriction. Start and End are minutes
// since local midnight; Weekdays holds ISO weekdays (1=Mon..7=Sun). A window
// whose End is earlier than its Start crosses midnight.
type Window struct {
	Enabled  bool
	Start    int
	End      int
	Weekdays map[int]struct{}
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(value string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("hour out of range in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("minute out of range in %q", value)
	}
	return hour*60 + minute, nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ISOWeekday maps a time to ISO numbering (1=Mon..7=Sun).
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// Matches reports whether t falls inside the window. The timestamp must
// already carry the location active hours are defined in.
//
// For windows that cross midnight the applicable weekday is the day the
// window started on: 01:30 Saturday inside a 22:00-06:00 window counts as
// Friday night.
func (w Window) Matches(t time.Time) bool {
	if !w.Enabled {
		return true
	}

	minutes := t.Hour()*60 + t.Minute()

	if w.End < w.Start {
		switch {
		case minutes >= w.Start:
			return w.hasWeekday(ISOWeekday(t))
		case minutes < w.End:
			return w.hasWeekday(ISOWeekday(t.AddDate(0, 0, -1)))
		default:
			return false
		}
	}

	if minutes < w.Start || minutes >= w.End {
		return false
	}
	return w.hasWeekday(ISOWeekday(t))
}

func (w Window) hasWeekday(day int) bool {
	_, ok := w.Weekdays[day]
	return ok
}
