package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"slate/internal/rules/hours"
)

const (
	// MinPriority and MaxPriority bound rule priority; higher runs first.
	MinPriority = 1
	MaxPriority = 100
)

var ruleIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("event", cel.DynType))
})

// Compile validates a rule document and produces a compiled Rule. On any
// validation problem it returns nil and the full list of errors; it never
// returns a partial rule. Compilation has no side effects.
func Compile(doc Document) (*Rule, []ValidationError) {
	var errs []ValidationError

	id := strings.TrimSpace(doc.ID)
	if id == "" {
		errs = append(errs, ValidationError{Path: "id", Message: "id is required"})
	} else if !ruleIDPattern.MatchString(id) {
		errs = append(errs, ValidationError{Path: "id", Message: fmt.Sprintf("id %q must be a lowercase slug", id)})
	}

	name := strings.TrimSpace(doc.Name)
	if name == "" {
		errs = append(errs, ValidationError{Path: "name", Message: "name is required"})
	}

	if doc.Priority < MinPriority || doc.Priority > MaxPriority {
		errs = append(errs, ValidationError{
			Path:    "priority",
			Message: fmt.Sprintf("priority must be between %d and %d, got %d", MinPriority, MaxPriority, doc.Priority),
		})
	}

	trigger, ok := ParseTrigger(doc.Trigger)
	if !ok {
		errs = append(errs, ValidationError{Path: "trigger", Message: fmt.Sprintf("unknown trigger %q", doc.Trigger)})
	}

	if doc.QuietPeriodSec < 0 {
		errs = append(errs, ValidationError{
			Path:    "quiet_period_sec",
			Message: fmt.Sprintf("quiet period must not be negative, got %d", doc.QuietPeriodSec),
		})
	}

	window := compileActiveHours(doc.ActiveHours, &errs)

	conditions := make([]Condition, 0, len(doc.Conditions))
	for i, step := range doc.Conditions {
		path := fmt.Sprintf("conditions[%d]", i)
		if !validateStep(conditionTypes, step, path, &errs) {
			continue
		}
		cond, err := buildCondition(step)
		if err != nil {
			errs = append(errs, ValidationError{Path: path, Message: err.Error()})
			continue
		}
		conditions = append(conditions, cond)
	}

	if len(doc.Actions) == 0 {
		errs = append(errs, ValidationError{Path: "actions", Message: "at least one action is required"})
	}
	actions := make([]Action, 0, len(doc.Actions))
	for i, step := range doc.Actions {
		path := fmt.Sprintf("actions[%d]", i)
		if validateStep(actionTypes, step, path, &errs) {
			actions = append(actions, Action{Type: step.Type, Params: copyParams(step.Params)})
		}
	}

	guardrails := make([]Guardrail, 0, len(doc.Guardrails))
	for i, step := range doc.Guardrails {
		path := fmt.Sprintf("guardrails[%d]", i)
		if validateStep(guardrailTypes, step, path, &errs) {
			guardrails = append(guardrails, Guardrail{Type: step.Type, Params: copyParams(step.Params)})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	canonical, err := canonicalForm(doc)
	if err != nil {
		return nil, []ValidationError{{Message: fmt.Sprintf("canonicalize: %v", err)}}
	}
	digest := sha256.Sum256([]byte(canonical))

	return &Rule{
		ID:          id,
		Name:        name,
		Enabled:     doc.Enabled,
		Priority:    doc.Priority,
		Trigger:     trigger,
		QuietPeriod: time.Duration(doc.QuietPeriodSec) * time.Second,
		ActiveHours: window,
		Conditions:  conditions,
		Actions:     actions,
		Guardrails:  guardrails,
		Canonical:   canonical,
		Hash:        hex.EncodeToString(digest[:]),
		CompiledAt:  time.Now().UTC(),
	}, nil
}

func compileActiveHours(doc *ActiveHoursDoc, errs *[]ValidationError) hours.Window {
	if doc == nil || !doc.Enabled {
		return hours.Window{}
	}

	window := hours.Window{Enabled: true, Weekdays: make(map[int]struct{}, len(doc.Weekdays))}

	start, err := hours.ParseClock(doc.Start)
	if err != nil {
		*errs = append(*errs, ValidationError{Path: "active_hours.start", Message: err.Error()})
	}
	end, err := hours.ParseClock(doc.End)
	if err != nil {
		*errs = append(*errs, ValidationError{Path: "active_hours.end", Message: err.Error()})
	}
	if start == end {
		*errs = append(*errs, ValidationError{Path: "active_hours", Message: "start and end must differ"})
	}
	window.Start = start
	window.End = end

	if len(doc.Weekdays) == 0 {
		*errs = append(*errs, ValidationError{Path: "active_hours.weekdays", Message: "at least one weekday is required"})
	}
	for i, day := range doc.Weekdays {
		if day < 1 || day > 7 {
			*errs = append(*errs, ValidationError{
				Path:    fmt.Sprintf("active_hours.weekdays[%d]", i),
				Message: fmt.Sprintf("weekday must be 1 (Mon) through 7 (Sun), got %d", day),
			})
			continue
		}
		window.Weekdays[day] = struct{}{}
	}

	return window
}

func buildCondition(step StepDoc) (Condition, error) {
	cond := Condition{Type: step.Type, Params: copyParams(step.Params)}

	switch step.Type {
	case "path_glob":
		pattern := ParamString(cond.Params, "pattern")
		cond.eval = func(ev Event) (bool, error) {
			return matchPathGlob(pattern, ev), nil
		}
	case "min_file_size_mb":
		threshold := ParamNumber(cond.Params, "mb") * 1024 * 1024
		cond.eval = func(ev Event) (bool, error) {
			return ev.PayloadNumber("size_bytes") >= threshold, nil
		}
	case "extension_in":
		values := ParamStrings(cond.Params, "values")
		cond.eval = func(ev Event) (bool, error) {
			return matchExtension(values, ev), nil
		}
	case "expr":
		program, err := compileExpression(ParamString(cond.Params, "expression"))
		if err != nil {
			return Condition{}, err
		}
		cond.eval = func(ev Event) (bool, error) {
			out, _, err := program.Eval(map[string]any{"event": ev.snapshot()})
			if err != nil {
				return false, fmt.Errorf("evaluate expression: %w", err)
			}
			matched, ok := out.Value().(bool)
			return ok && matched, nil
		}
	default:
		return Condition{}, fmt.Errorf("unknown condition type %q", step.Type)
	}

	return cond, nil
}

func compileExpression(expression string) (cel.Program, error) {
	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("expression environment: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}
	// Cost limit keeps a pathological expression from stalling the dispatcher.
	return env.Program(ast, cel.CostLimit(1_000_000))
}

func copyParams(params map[string]any) map[string]any {
	if len(params) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = normalizeValue(v)
	}
	return out
}

// normalizeValue collapses the numeric and list shapes TOML and JSON decode
// differently, so the canonical form does not depend on the decoder.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case int:
		return int64(v)
	case float64:
		if v == float64(int64(v)) {
			return int64(v)
		}
		return v
	case []any:
		out := make([]any, len(v))
		for i, entry := range v {
			out[i] = normalizeValue(entry)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, entry := range v {
			out[i] = entry
		}
		return out
	default:
		return v
	}
}

// canonicalForm renders a normalized document as deterministic JSON:
// trimmed strings, sorted weekdays, normalized numbers, and (via
// encoding/json) lexicographically ordered parameter keys.
func canonicalForm(doc Document) (string, error) {
	normalized := Document{
		ID:             strings.TrimSpace(doc.ID),
		Name:           strings.TrimSpace(doc.Name),
		Enabled:        doc.Enabled,
		Priority:       doc.Priority,
		Trigger:        strings.ToLower(strings.TrimSpace(doc.Trigger)),
		QuietPeriodSec: doc.QuietPeriodSec,
		Conditions:     normalizeSteps(doc.Conditions),
		Actions:        normalizeSteps(doc.Actions),
		Guardrails:     normalizeSteps(doc.Guardrails),
	}
	if doc.ActiveHours != nil && doc.ActiveHours.Enabled {
		weekdays := append([]int{}, doc.ActiveHours.Weekdays...)
		sort.Ints(weekdays)
		normalized.ActiveHours = &ActiveHoursDoc{
			Enabled:  true,
			Start:    strings.TrimSpace(doc.ActiveHours.Start),
			End:      strings.TrimSpace(doc.ActiveHours.End),
			Weekdays: weekdays,
		}
	}

	data, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func normalizeSteps(steps []StepDoc) []StepDoc {
	out := make([]StepDoc, len(steps))
	for i, step := range steps {
		out[i] = StepDoc{Type: strings.TrimSpace(step.Type), Params: copyParams(step.Params)}
	}
	return out
}
