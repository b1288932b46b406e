package debounce

import (
	"log/slog"
	"sync"
	"time"

	"slate/internal/logging"
	"slate/internal/rules"
)

// FireFunc receives the final event of a burst once its quiet period has
// elapsed without further activity.
type FireFunc func(rule *rules.Rule, event rules.Event)

type key struct {
	ruleID  string
	subject string
}

type entry struct {
	generation uint64
	timer      *time.Timer
	rule       *rules.Rule
	event      rules.Event
}

// Debouncer coalesces event bursts per (rule, subject) pair.
type Debouncer struct {
	fire   FireFunc
	logger *slog.Logger

	mu      sync.Mutex
	pending map[key]*entry
	closed  bool
}

func New(fire FireFunc, logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Debouncer{
		fire:    fire,
		logger:  logging.WithComponent(logger, "debounce"),
		pending: make(map[key]*entry),
	}
}

// Observe registers an event that matched a rule. A zero quiet period fires
// synchronously; otherwise the event is held and any pending timer for the
// same rule and subject is restarted.
func (d *Debouncer) Observe(rule *rules.Rule, event rules.Event) {
	if rule.QuietPeriod <= 0 {
		d.fire(rule, event)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	k := key{ruleID: rule.ID, subject: event.Subject}
	pending, exists := d.pending[k]
	if exists {
		pending.timer.Stop()
	} else {
		pending = &entry{}
		d.pending[k] = pending
	}
	pending.generation++
	pending.rule = rule
	pending.event = event

	generation := pending.generation
	pending.timer = time.AfterFunc(rule.QuietPeriod, func() {
		d.expire(k, generation)
	})

	d.logger.Debug("holding event for quiet period",
		logging.String(logging.FieldRuleID, rule.ID),
		logging.String(logging.FieldSubject, event.Subject),
		logging.Duration("quiet_period", rule.QuietPeriod),
		logging.Int64("generation", int64(generation)),
	)
}

// expire delivers a held event if its generation is still current. A timer
// whose entry was replaced or canceled finds a mismatch and does nothing.
func (d *Debouncer) expire(k key, generation uint64) {
	d.mu.Lock()
	pending, exists := d.pending[k]
	if !exists || pending.generation != generation || d.closed {
		d.mu.Unlock()
		return
	}
	delete(d.pending, k)
	rule, event := pending.rule, pending.event
	d.mu.Unlock()

	d.fire(rule, event)
}

// CancelRule drops every pending hold for a rule. Called when the rule is
// removed or recompiled, so stale timers cannot dispatch under old semantics.
func (d *Debouncer) CancelRule(ruleID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	dropped := 0
	for k, pending := range d.pending {
		if k.ruleID != ruleID {
			continue
		}
		pending.timer.Stop()
		delete(d.pending, k)
		dropped++
	}
	if dropped > 0 {
		d.logger.Debug("canceled pending holds",
			logging.String(logging.FieldRuleID, ruleID),
			logging.Int("count", dropped),
		)
	}
	return dropped
}

// Held reports whether an event is currently held for a rule and subject.
func (d *Debouncer) Held(ruleID, subject string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key{ruleID: ruleID, subject: subject}]
	return ok
}

// Pending reports how many events are currently held.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close stops all timers and discards held events.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for k, pending := range d.pending {
		pending.timer.Stop()
		delete(d.pending, k)
	}
}
