package daemon

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"slate/internal/rules"
	"slate/internal/rules/hours"
)

// EventInput is an externally supplied event, before trigger validation.
// At pins the event timestamp for dry runs; live events always stamp now.
type EventInput struct {
	Trigger string
	Subject string
	Payload map[string]any
	At      time.Time
}

// ParseTrigger validates the trigger name.
func (e EventInput) ParseTrigger() (rules.TriggerType, bool) {
	return rules.ParseTrigger(e.Trigger)
}

func (e EventInput) build(trigger rules.TriggerType) rules.Event {
	timestamp := e.At
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return rules.Event{
		Trigger:   trigger,
		Subject:   e.Subject,
		Timestamp: timestamp.UTC(),
		Payload:   e.Payload,
	}
}

func (d *Daemon) publish(trigger rules.TriggerType, input EventInput) (bool, string) {
	event := input.build(trigger)
	event.ID = uuid.NewString()
	return d.hub.Publish(event), event.ID
}

func rulesTickEvent(now time.Time) rules.Event {
	return rules.Event{
		Trigger:   rules.TriggerScheduleTick,
		Subject:   "tick",
		Timestamp: now.UTC(),
	}
}

// RuleInfo is a display-oriented summary of one installed rule.
type RuleInfo struct {
	ID             string
	Name           string
	Enabled        bool
	Priority       int
	Trigger        string
	QuietPeriodSec int
	ActiveHours    string
	Conditions     int
	Actions        int
	Guardrails     int
	Hash           string
	CompiledAt     time.Time
}

func newRuleInfo(rule *rules.Rule) *RuleInfo {
	return &RuleInfo{
		ID:             rule.ID,
		Name:           rule.Name,
		Enabled:        rule.Enabled,
		Priority:       rule.Priority,
		Trigger:        string(rule.Trigger),
		QuietPeriodSec: int(rule.QuietPeriod / time.Second),
		ActiveHours:    formatWindow(rule.ActiveHours),
		Conditions:     len(rule.Conditions),
		Actions:        len(rule.Actions),
		Guardrails:     len(rule.Guardrails),
		Hash:           rule.Hash,
		CompiledAt:     rule.CompiledAt,
	}
}

var weekdayNames = map[int]string{
	1: "Mon", 2: "Tue", 3: "Wed", 4: "Thu", 5: "Fri", 6: "Sat", 7: "Sun",
}

func formatWindow(window hours.Window) string {
	if !window.Enabled {
		return "always"
	}
	span := hours.FormatClock(window.Start) + "-" + hours.FormatClock(window.End)
	if len(window.Weekdays) == 0 || len(window.Weekdays) == 7 {
		return span
	}
	days := make([]int, 0, len(window.Weekdays))
	for day := range window.Weekdays {
		days = append(days, day)
	}
	sort.Ints(days)
	names := make([]string, 0, len(days))
	for _, day := range days {
		names = append(names, weekdayNames[day])
	}
	return span + " " + strings.Join(names, ",")
}
