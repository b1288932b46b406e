// Package recheck periodically revisits deferred jobs.
//
// On each tick every due job has its guardrails re-evaluated: a clear
// decision promotes the job back to the queue, a block re-defers it with a
// fresh reason and recheck time. The loop never executes jobs itself.
package recheck

import (
	"context"
	"log/slog"
	"time"

	"slate/internal/guardrails"
	"slate/internal/jobs"
	"slate/internal/logging"
	"slate/internal/scheduler"
)

// Loop drives deferred-job rechecks on a fixed interval.
type Loop struct {
	store      *jobs.Store
	gate       scheduler.GateFunc
	interval   time.Duration
	onPromoted func(*jobs.Job)
	logger     *slog.Logger

	// stranded jobs already reported, so each is logged once.
	reported map[int64]bool
}

func New(store *jobs.Store, gate scheduler.GateFunc, interval time.Duration, onPromoted func(*jobs.Job), logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Loop{
		store:      store,
		gate:       gate,
		interval:   interval,
		onPromoted: onPromoted,
		logger:     logging.WithComponent(logger, "recheck"),
		reported:   make(map[int64]bool),
	}
}

// Run ticks until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Sweep(ctx)
		}
	}
}

// Sweep processes all currently due deferred jobs once.
func (l *Loop) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	l.reportStranded(ctx)
	due, err := l.store.DueDeferred(ctx, now)
	if err != nil {
		l.logger.Error("query due deferred jobs", logging.Error(err))
		return
	}

	for _, job := range due {
		if ctx.Err() != nil {
			return
		}

		decision := guardrails.Decision{Allow: true}
		if l.gate != nil {
			decision = l.gate(ctx, job)
		}

		if decision.Allow {
			promoted, err := l.store.Promote(ctx, job.ID, false)
			if err != nil {
				l.logger.Error("promote deferred job", logging.Error(err), logging.Int64(logging.FieldJobID, job.ID))
				continue
			}
			if !promoted {
				continue
			}
			l.logger.Info("deferred job promoted",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.String(logging.FieldRuleID, job.RuleID),
			)
			if l.onPromoted != nil {
				queued, err := l.store.GetByID(ctx, job.ID)
				if err == nil && queued != nil {
					l.onPromoted(queued)
				}
			}
			continue
		}

		nextRun := now.Add(decision.RetryDelay)
		if _, err := l.store.Defer(ctx, job.ID, decision.Reason, nextRun); err != nil {
			l.logger.Error("re-defer job", logging.Error(err), logging.Int64(logging.FieldJobID, job.ID))
			continue
		}
		l.logger.Debug("deferred job still blocked",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldRuleID, job.RuleID),
			logging.String("reason", decision.Reason),
			logging.Time("next_run_at", nextRun),
		)
	}
}

// reportStranded surfaces deferred jobs with no recheck time. The sweep can
// never pick them up, so without the report they would sit invisible forever.
// Each job is reported once; force-run or retry is the way out.
func (l *Loop) reportStranded(ctx context.Context) {
	ids, err := l.store.StrandedDeferred(ctx)
	if err != nil {
		l.logger.Error("query stranded deferred jobs", logging.Error(err))
		return
	}
	for _, id := range ids {
		if l.reported[id] {
			continue
		}
		l.reported[id] = true
		l.logger.Error("deferred job has no recheck time and will never run",
			logging.Int64(logging.FieldJobID, id),
			logging.String(logging.FieldEventType, "deferred_job_stranded"),
			logging.String(logging.FieldErrorHint, "force-run or retry the job"),
		)
	}
}
