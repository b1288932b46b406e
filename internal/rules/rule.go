package rules

import (
	"time"

	"slate/internal/rules/hours"
)

// Rule is a compiled, immutable rule. Edits to the source document produce a
// new compiled rule with a new hash; compiled rules are never mutated.
type Rule struct {
	ID          string
	Name        string
	Enabled     bool
	Priority    int
	Trigger     TriggerType
	QuietPeriod time.Duration
	ActiveHours hours.Window
	Conditions  []Condition
	Actions     []Action
	Guardrails  []Guardrail

	// Canonical is the canonical JSON form of the source document and Hash
	// its SHA-256 digest; identical documents always produce identical pairs.
	Canonical string
	Hash      string

	CompiledAt time.Time
}

// Condition is a compiled pure predicate over an event snapshot.
type Condition struct {
	Type   string
	Params map[string]any

	eval func(Event) (bool, error)
}

// Eval runs the predicate. Errors are evaluation failures (e.g. an expression
// dividing by zero), not match misses; the caller decides how to treat them.
func (c Condition) Eval(ev Event) (bool, error) {
	if c.eval == nil {
		return false, nil
	}
	return c.eval(ev)
}

// Action is an opaque unit of work handed to the executor collaborator.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Guardrail is a live precondition check evaluated at decision time.
type Guardrail struct {
	Type   string
	Params map[string]any
}
