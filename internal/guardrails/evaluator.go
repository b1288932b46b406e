package guardrails

import (
	"context"
	"log/slog"
	"time"

	"slate/internal/logging"
	"slate/internal/rules"
)

// ReasonProbeUnavailable marks blocks caused by an unreachable or slow
// live-state provider rather than by a guardrail predicate.
const ReasonProbeUnavailable = "probe_unavailable"

// Suggested retry delays per guardrail type. A recording usually ends within
// minutes; load and queue pressure clear faster.
const (
	recordingRetryDelay   = 30 * time.Second
	concurrencyRetryDelay = 10 * time.Second
	loadRetryDelay        = 20 * time.Second
)

// Snapshot captures the live external facts guardrails evaluate against.
// Snapshots are single-use: they are fetched per decision and never cached.
type Snapshot struct {
	RecordingActive bool
	CPUPercent      float64
	FreeSpaceGB     float64
	RunningJobs     int
}

// Provider supplies live-state snapshots with a bounded-latency contract.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Snapshot, error)

func (f ProviderFunc) Snapshot(ctx context.Context) (Snapshot, error) { return f(ctx) }

// PathProber is an optional Provider extension reporting filesystem headroom
// under a named directory. A min_free_space_gb guardrail with a path
// parameter checks that directory instead of the snapshot figure.
type PathProber interface {
	FreeSpaceAt(ctx context.Context, dir string) (float64, error)
}

// StaticProvider returns the same snapshot on every probe; used by dry-run
// evaluation and tests.
func StaticProvider(snapshot Snapshot) Provider {
	return ProviderFunc(func(context.Context) (Snapshot, error) {
		return snapshot, nil
	})
}

// Decision is the outcome of evaluating a guardrail list.
type Decision struct {
	Allow      bool
	Reason     string
	RetryDelay time.Duration
}

// Blocked is a convenience constructor for a blocking decision.
func Blocked(reason string, delay time.Duration) Decision {
	return Decision{Reason: reason, RetryDelay: delay}
}

// Evaluator runs guardrail lists against provider snapshots.
type Evaluator struct {
	provider     Provider
	timeout      time.Duration
	defaultDelay time.Duration
	logger       *slog.Logger
}

// NewEvaluator constructs an evaluator. timeout bounds each provider probe;
// defaultDelay is used when a guardrail has no better retry estimate.
func NewEvaluator(provider Provider, timeout, defaultDelay time.Duration, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Evaluator{
		provider:     provider,
		timeout:      timeout,
		defaultDelay: defaultDelay,
		logger:       logging.WithComponent(logger, "guardrails"),
	}
}

// Evaluate checks guardrails in order and returns the first block, or allow.
// An empty list allows without probing.
func (e *Evaluator) Evaluate(ctx context.Context, list []rules.Guardrail) Decision {
	if len(list) == 0 {
		return Decision{Allow: true}
	}

	probeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	snapshot, err := e.provider.Snapshot(probeCtx)
	if err != nil {
		// Fail safe: an unevaluable guardrail must never allow.
		e.logger.Warn("live-state probe failed; deferring",
			logging.Error(err),
			logging.String(logging.FieldEventType, "guardrail_probe_failed"),
			logging.String(logging.FieldErrorHint, "check the live-state provider"),
		)
		return Blocked(ReasonProbeUnavailable, e.defaultDelay)
	}

	for _, guardrail := range list {
		if decision := e.check(probeCtx, guardrail, snapshot); !decision.Allow {
			return decision
		}
	}
	return Decision{Allow: true}
}

func (e *Evaluator) check(ctx context.Context, guardrail rules.Guardrail, snapshot Snapshot) Decision {
	switch guardrail.Type {
	case "pause_if_recording":
		if snapshot.RecordingActive {
			return Blocked("recording", recordingRetryDelay)
		}
	case "min_free_space_gb":
		required := rules.ParamNumber(guardrail.Params, "gb")
		free := snapshot.FreeSpaceGB
		if dir := rules.ParamString(guardrail.Params, "path"); dir != "" {
			if prober, ok := e.provider.(PathProber); ok {
				probed, err := prober.FreeSpaceAt(ctx, dir)
				if err != nil {
					// Fail safe: an unevaluable guardrail must never allow.
					e.logger.Warn("free-space probe failed; deferring",
						logging.Error(err),
						logging.String("path", dir),
						logging.String(logging.FieldEventType, "guardrail_probe_failed"),
					)
					return Blocked(ReasonProbeUnavailable, e.defaultDelay)
				}
				free = probed
			}
		}
		if free < required {
			return Blocked("low_disk_space", e.defaultDelay)
		}
	case "max_concurrent_jobs":
		limit := int(rules.ParamNumber(guardrail.Params, "limit"))
		if snapshot.RunningJobs >= limit {
			return Blocked("max_concurrent_jobs", concurrencyRetryDelay)
		}
	case "max_cpu_percent":
		ceiling := rules.ParamNumber(guardrail.Params, "percent")
		if snapshot.CPUPercent > ceiling {
			return Blocked("cpu_overloaded", loadRetryDelay)
		}
	default:
		// The compiler rejects unknown types; reaching here is a programming
		// error and must not silently allow.
		e.logger.Error("unregistered guardrail type",
			logging.String("type", guardrail.Type),
			logging.String(logging.FieldEventType, "guardrail_unknown_type"),
		)
		return Blocked(ReasonProbeUnavailable, e.defaultDelay)
	}
	return Decision{Allow: true}
}
