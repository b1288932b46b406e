package dispatch

import (
	"context"
	"fmt"
	"time"

	"slate/internal/guardrails"
	"slate/internal/rules"
)

// ConditionTrace records the outcome of one condition during a dry run.
type ConditionTrace struct {
	Type    string `json:"type"`
	Matched bool   `json:"matched"`
	Error   string `json:"error,omitempty"`
}

// Trace explains what dispatching an event against one rule would do. Dry
// runs never create jobs, hold events, or advance debounce state.
type Trace struct {
	RuleID            string           `json:"rule_id"`
	RuleEnabled       bool             `json:"rule_enabled"`
	TriggerMatch      bool             `json:"trigger_match"`
	Conditions        []ConditionTrace `json:"conditions,omitempty"`
	ConditionsMatch   bool             `json:"conditions_match"`
	ActiveHoursMatch  bool             `json:"active_hours_match"`
	QuietPeriodActive bool             `json:"quiet_period_active"`
	QuietPeriodSec    int              `json:"quiet_period_sec"`
	WouldBlock        bool             `json:"would_block"`
	BlockReason       string           `json:"block_reason,omitempty"`
	RetryDelaySec     int              `json:"retry_delay_sec,omitempty"`
	ShouldExecute     bool             `json:"should_execute"`
}

// Trace performs a dry-run evaluation of an event against a rule. When
// snapshot is non-nil, guardrails are evaluated against it instead of the
// live provider.
func (d *Dispatcher) Trace(ctx context.Context, ruleID string, event rules.Event, snapshot *guardrails.Snapshot) (*Trace, error) {
	rule := d.ruleset.Get(ruleID)
	if rule == nil {
		return nil, fmt.Errorf("unknown rule %q", ruleID)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	trace := &Trace{
		RuleID:         rule.ID,
		RuleEnabled:    rule.Enabled,
		TriggerMatch:   rule.Trigger == event.Trigger,
		QuietPeriodSec: int(rule.QuietPeriod / time.Second),
	}

	trace.ConditionsMatch = true
	for _, cond := range rule.Conditions {
		result := ConditionTrace{Type: cond.Type}
		ok, err := cond.Eval(event)
		if err != nil {
			result.Error = err.Error()
		}
		result.Matched = ok && err == nil
		if !result.Matched {
			trace.ConditionsMatch = false
		}
		trace.Conditions = append(trace.Conditions, result)
	}

	trace.ActiveHoursMatch = rule.ActiveHours.Matches(event.Timestamp.In(d.location))
	trace.QuietPeriodActive = d.debouncer.Held(rule.ID, event.Subject)

	decision := guardrails.Decision{Allow: true}
	switch {
	case snapshot != nil:
		eval := guardrails.NewEvaluator(guardrails.StaticProvider(*snapshot), time.Second, d.defaultRetry, d.logger)
		decision = eval.Evaluate(ctx, rule.Guardrails)
	case d.guard != nil:
		decision = d.guard.Evaluate(ctx, rule.Guardrails)
	}
	if !decision.Allow {
		trace.WouldBlock = true
		trace.BlockReason = decision.Reason
		trace.RetryDelaySec = int(decision.RetryDelay / time.Second)
	}

	trace.ShouldExecute = trace.RuleEnabled &&
		trace.TriggerMatch &&
		trace.ConditionsMatch &&
		trace.ActiveHoursMatch &&
		!trace.WouldBlock
	return trace, nil
}
