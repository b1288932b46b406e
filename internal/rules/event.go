package rules

import (
	"strings"
	"time"
)

// TriggerType is the event category a rule reacts to.
type TriggerType string

const (
	TriggerFileClosed   TriggerType = "file_closed"
	TriggerFileCreated  TriggerType = "file_created"
	TriggerScheduleTick TriggerType = "schedule_tick"
	TriggerManual       TriggerType = "manual"
)

var triggerSet = map[TriggerType]struct{}{
	TriggerFileClosed:   {},
	TriggerFileCreated:  {},
	TriggerScheduleTick: {},
	TriggerManual:       {},
}

// ParseTrigger converts a string into a known TriggerType.
func ParseTrigger(value string) (TriggerType, bool) {
	normalized := TriggerType(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := triggerSet[normalized]
	return normalized, ok
}

// Event is a raw occurrence delivered to the dispatcher: a trigger type, the
// subject asset it concerns, and an opaque payload from the watcher.
type Event struct {
	ID        string
	Trigger   TriggerType
	Subject   string
	Timestamp time.Time
	Payload   map[string]any
}

// snapshot builds the flat view conditions evaluate against.
func (e Event) snapshot() map[string]any {
	payload := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		payload[k] = v
	}
	return map[string]any{
		"trigger":   string(e.Trigger),
		"subject":   e.Subject,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
		"payload":   payload,
	}
}

// PayloadString returns a string payload field, or "" when absent.
func (e Event) PayloadString(key string) string {
	if v, ok := e.Payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// PayloadNumber returns a numeric payload field, or 0 when absent.
func (e Event) PayloadNumber(key string) float64 {
	switch v := e.Payload[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}
