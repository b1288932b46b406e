package dispatch

import (
	"context"
	"log/slog"
	"time"

	"slate/internal/debounce"
	"slate/internal/guardrails"
	"slate/internal/jobs"
	"slate/internal/logging"
	"slate/internal/rules"
)

// Options configures a Dispatcher.
type Options struct {
	// DefaultRetryDelay is used when a guardrail block carries no delay.
	DefaultRetryDelay time.Duration
	// Location is the timezone active-hours windows are evaluated in.
	Location *time.Location
	// OnQueued observes jobs entering the queue, typically to feed the
	// scheduler's ready heap.
	OnQueued func(*jobs.Job)
	// OnDeferred observes jobs parked by a guardrail block.
	OnDeferred func(*jobs.Job)
	Logger     *slog.Logger
}

// Dispatcher routes events through the active rule set into the job store.
type Dispatcher struct {
	ruleset      *RuleSet
	store        *jobs.Store
	guard        *guardrails.Evaluator
	debouncer    *debounce.Debouncer
	defaultRetry time.Duration
	location     *time.Location
	onQueued     func(*jobs.Job)
	onDeferred   func(*jobs.Job)
	logger       *slog.Logger
}

func New(ruleset *RuleSet, store *jobs.Store, guard *guardrails.Evaluator, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	location := opts.Location
	if location == nil {
		location = time.Local
	}
	retry := opts.DefaultRetryDelay
	if retry <= 0 {
		retry = time.Minute
	}

	d := &Dispatcher{
		ruleset:      ruleset,
		store:        store,
		guard:        guard,
		defaultRetry: retry,
		location:     location,
		onQueued:     opts.OnQueued,
		onDeferred:   opts.OnDeferred,
		logger:       logging.WithComponent(logger, "dispatch"),
	}
	d.debouncer = debounce.New(d.settle, logger)
	return d
}

// Debouncer exposes the quiet-period tracker for rule reload housekeeping.
func (d *Dispatcher) Debouncer() *debounce.Debouncer {
	return d.debouncer
}

// Run consumes events until the channel closes or ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context, events <-chan rules.Event) error {
	defer d.debouncer.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			d.Dispatch(event)
		}
	}
}

// Dispatch evaluates one event against every matching rule.
func (d *Dispatcher) Dispatch(event rules.Event) {
	matched := 0
	for _, rule := range d.ruleset.ByTrigger(event.Trigger) {
		if !d.conditionsMatch(rule, event) {
			continue
		}
		matched++

		if !rule.ActiveHours.Matches(event.Timestamp.In(d.location)) {
			d.logger.Debug("event outside active hours",
				logging.String(logging.FieldRuleID, rule.ID),
				logging.String(logging.FieldEventID, event.ID),
				logging.String(logging.FieldSubject, event.Subject),
			)
			continue
		}

		d.debouncer.Observe(rule, event)
	}

	if matched == 0 {
		d.logger.Debug("event matched no rules",
			logging.String(logging.FieldEventID, event.ID),
			logging.String(logging.FieldEventType, string(event.Trigger)),
			logging.String(logging.FieldSubject, event.Subject),
		)
	}
}

// conditionsMatch evaluates a rule's conditions as a conjunction, stopping at
// the first miss. An evaluation error counts as a miss, never a match.
func (d *Dispatcher) conditionsMatch(rule *rules.Rule, event rules.Event) bool {
	for _, cond := range rule.Conditions {
		ok, err := cond.Eval(event)
		if err != nil {
			d.logger.Warn("condition evaluation failed",
				logging.String(logging.FieldRuleID, rule.ID),
				logging.String("condition", cond.Type),
				logging.Error(err),
			)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// settle receives events whose quiet period has elapsed and creates the job,
// queued or deferred depending on the guardrail decision.
func (d *Dispatcher) settle(rule *rules.Rule, event rules.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := jobs.NewJob{
		RuleID:   rule.ID,
		RuleHash: rule.Hash,
		Subject:  event.Subject,
		EventID:  event.ID,
		Trigger:  string(event.Trigger),
		Actions:  rule.Actions,
		Priority: rule.Priority,
	}

	decision := guardrails.Decision{Allow: true}
	if d.guard != nil {
		decision = d.guard.Evaluate(ctx, rule.Guardrails)
	}

	if decision.Allow {
		job, err := d.store.Enqueue(ctx, req)
		if err != nil {
			d.logger.Error("enqueue job",
				logging.Error(err),
				logging.String(logging.FieldRuleID, rule.ID),
				logging.String(logging.FieldSubject, event.Subject),
			)
			return
		}
		d.logger.Info("job queued",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldRuleID, rule.ID),
			logging.String(logging.FieldSubject, event.Subject),
			logging.Int("priority", job.Priority),
		)
		if d.onQueued != nil {
			d.onQueued(job)
		}
		return
	}

	delay := decision.RetryDelay
	if delay <= 0 {
		delay = d.defaultRetry
	}
	nextRun := time.Now().UTC().Add(delay)
	job, err := d.store.EnqueueDeferred(ctx, req, decision.Reason, nextRun)
	if err != nil {
		d.logger.Error("enqueue deferred job",
			logging.Error(err),
			logging.String(logging.FieldRuleID, rule.ID),
			logging.String(logging.FieldSubject, event.Subject),
		)
		return
	}
	d.logger.Info("job deferred",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldRuleID, rule.ID),
		logging.String(logging.FieldSubject, event.Subject),
		logging.String("reason", decision.Reason),
		logging.Time("next_run_at", nextRun),
	)
	if d.onDeferred != nil {
		d.onDeferred(job)
	}
}
