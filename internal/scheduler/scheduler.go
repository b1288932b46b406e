// Package scheduler drains the job queue through a bounded set of worker
// slots.
//
// Queued jobs are ordered by priority, then age. Each claim re-checks the
// job's guardrails through the gate; a blocked job is deferred instead of
// started. Running jobs are cancelable individually, and a daemon shutdown
// leaves in-flight jobs in the running state for startup recovery to requeue.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"slate/internal/guardrails"
	"slate/internal/jobs"
	"slate/internal/logging"
)

// Executor runs a job's action list. Execute must honor context
// cancellation; a canceled context means the job was stopped, not failed.
type Executor interface {
	Execute(ctx context.Context, job *jobs.Job) error
}

// GateFunc re-evaluates a job's guardrails immediately before it starts.
// Forced jobs bypass the gate.
type GateFunc func(ctx context.Context, job *jobs.Job) guardrails.Decision

// FinishFunc observes terminal job outcomes.
type FinishFunc func(job *jobs.Job, err error)

// Options configures a Scheduler.
type Options struct {
	MaxConcurrency int
	Logger         *slog.Logger
	OnFinish       FinishFunc
}

// Scheduler owns the ready queue and worker slots.
type Scheduler struct {
	store    *jobs.Store
	exec     Executor
	gate     GateFunc
	logger   *slog.Logger
	slots    int
	onFinish FinishFunc

	mu           sync.Mutex
	ready        readyHeap
	running      map[int64]context.CancelFunc
	userCanceled map[int64]bool
	paused       bool

	wake chan struct{}
	wg   sync.WaitGroup
}

func New(store *jobs.Store, exec Executor, gate GateFunc, opts Options) *Scheduler {
	slots := opts.MaxConcurrency
	if slots <= 0 {
		slots = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		store:        store,
		exec:         exec,
		gate:         gate,
		logger:       logging.WithComponent(logger, "scheduler"),
		slots:        slots,
		onFinish:     opts.OnFinish,
		running:      make(map[int64]context.CancelFunc),
		userCanceled: make(map[int64]bool),
		wake:         make(chan struct{}, 1),
	}
}

// Run drives the scheduling loop until ctx is canceled, then waits for
// in-flight executions to stop.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.loadQueued(ctx); err != nil {
		return err
	}

	for {
		s.fill(ctx)
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-s.wake:
		}
	}
}

// loadQueued seeds the ready heap from jobs persisted before this process
// started.
func (s *Scheduler) loadQueued(ctx context.Context) error {
	queued, err := s.store.List(ctx, jobs.StateQueued)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range queued {
		heap.Push(&s.ready, readyEntry{id: job.ID, priority: job.Priority, createdAt: job.CreatedAt})
	}
	return nil
}

// NotifyEnqueued adds a freshly queued job to the ready heap.
func (s *Scheduler) NotifyEnqueued(job *jobs.Job) {
	if job == nil {
		return
	}
	s.mu.Lock()
	heap.Push(&s.ready, readyEntry{id: job.ID, priority: job.Priority, createdAt: job.CreatedAt})
	s.mu.Unlock()
	s.kick()
}

// fill starts jobs until the slots are full, the heap is empty, or the
// scheduler is paused.
func (s *Scheduler) fill(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if s.paused || len(s.running) >= s.slots || s.ready.Len() == 0 {
			s.mu.Unlock()
			return
		}
		entry := heap.Pop(&s.ready).(readyEntry)
		s.mu.Unlock()

		job, err := s.store.GetByID(ctx, entry.id)
		if err != nil {
			s.logger.Error("load job for execution", logging.Error(err), logging.Int64(logging.FieldJobID, entry.id))
			continue
		}
		// Canceled or deferred since it entered the heap.
		if job == nil || job.State != jobs.StateQueued {
			continue
		}

		if s.gate != nil && !job.Forced {
			decision := s.gate(ctx, job)
			if !decision.Allow {
				nextRun := time.Now().UTC().Add(decision.RetryDelay)
				if _, err := s.store.Defer(ctx, job.ID, decision.Reason, nextRun); err != nil {
					s.logger.Error("defer blocked job", logging.Error(err), logging.Int64(logging.FieldJobID, job.ID))
				} else {
					s.logger.Info("job deferred by guardrail",
						logging.Int64(logging.FieldJobID, job.ID),
						logging.String(logging.FieldRuleID, job.RuleID),
						logging.String("reason", decision.Reason),
						logging.Time("next_run_at", nextRun),
					)
				}
				continue
			}
		}

		claimed, err := s.store.MarkRunning(ctx, job.ID)
		if err != nil {
			s.logger.Error("claim job", logging.Error(err), logging.Int64(logging.FieldJobID, job.ID))
			continue
		}
		if !claimed {
			continue
		}
		s.start(ctx, job)
	}
}

func (s *Scheduler) start(parent context.Context, job *jobs.Job) {
	jobCtx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	s.running[job.ID] = cancel
	s.mu.Unlock()

	s.logger.Info("job started",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldRuleID, job.RuleID),
		logging.String(logging.FieldSubject, job.Subject),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		err := s.exec.Execute(jobCtx, job)
		s.settle(jobCtx, job, err)
	}()
}

// settle records the terminal state for a finished execution. Final writes
// use a fresh context so shutdown cannot lose them.
func (s *Scheduler) settle(jobCtx context.Context, job *jobs.Job, execErr error) {
	s.mu.Lock()
	delete(s.running, job.ID)
	wasUserCancel := s.userCanceled[job.ID]
	delete(s.userCanceled, job.ID)
	s.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch {
	case jobCtx.Err() != nil && wasUserCancel:
		if err := s.store.MarkCanceled(writeCtx, job.ID); err != nil {
			s.logger.Error("record cancel", logging.Error(err), logging.Int64(logging.FieldJobID, job.ID))
		}
		s.logger.Info("job canceled", logging.Int64(logging.FieldJobID, job.ID), logging.String(logging.FieldRuleID, job.RuleID))
		execErr = context.Canceled
	case jobCtx.Err() != nil:
		// Daemon shutdown: leave the row running so startup recovery
		// requeues it.
		s.logger.Info("job interrupted by shutdown", logging.Int64(logging.FieldJobID, job.ID))
		execErr = jobCtx.Err()
	case execErr != nil:
		if err := s.store.MarkFailed(writeCtx, job.ID, execErr.Error()); err != nil {
			s.logger.Error("record failure", logging.Error(err), logging.Int64(logging.FieldJobID, job.ID))
		}
		s.logger.Error("job failed",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldRuleID, job.RuleID),
			logging.Error(execErr),
		)
	default:
		if err := s.store.MarkCompleted(writeCtx, job.ID); err != nil {
			s.logger.Error("record completion", logging.Error(err), logging.Int64(logging.FieldJobID, job.ID))
		}
		s.logger.Info("job completed", logging.Int64(logging.FieldJobID, job.ID), logging.String(logging.FieldRuleID, job.RuleID))
	}

	if s.onFinish != nil {
		s.onFinish(job, execErr)
	}
	s.kick()
}

// CancelRunning requests cooperative cancellation of a running job.
func (s *Scheduler) CancelRunning(id int64) bool {
	s.mu.Lock()
	cancel, ok := s.running[id]
	if ok {
		s.userCanceled[id] = true
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Pause stops claiming new jobs; running jobs continue.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume restarts claiming.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.kick()
}

// IsPaused reports whether claiming is suspended.
func (s *Scheduler) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// RunningCount reports how many jobs hold a worker slot.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// RunningIDs returns the ids of jobs currently executing.
func (s *Scheduler) RunningIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// IsCancellation reports whether an execution error represents cooperative
// cancellation rather than failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
