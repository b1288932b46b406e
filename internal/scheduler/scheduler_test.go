package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"slate/internal/guardrails"
	"slate/internal/jobs"
	"slate/internal/rules"
	"slate/internal/scheduler"
	"slate/internal/testsupport"
)

type stubExecutor struct {
	mu      sync.Mutex
	order   []int64
	started chan int64
	release chan struct{}
	err     error
}

func (e *stubExecutor) Execute(ctx context.Context, job *jobs.Job) error {
	e.mu.Lock()
	e.order = append(e.order, job.ID)
	e.mu.Unlock()

	if e.started != nil {
		e.started <- job.ID
	}
	if e.release != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.release:
		}
	}
	return e.err
}

func (e *stubExecutor) executed() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int64(nil), e.order...)
}

func startScheduler(t *testing.T, s *scheduler.Scheduler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("scheduler did not stop")
		}
	})
	return cancel
}

func waitForState(t *testing.T, store *jobs.Store, id int64, want jobs.State) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job != nil && job.State == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %d never reached state %s", id, want)
	return nil
}

func TestDrainsQueueInPriorityOrder(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	exec := &stubExecutor{}

	low := testsupport.Enqueue(t, store, "archive", "/recordings/a.mkv", 10)
	high := testsupport.Enqueue(t, store, "remux", "/recordings/b.mkv", 90)
	mid := testsupport.Enqueue(t, store, "proxy", "/recordings/c.mkv", 50)

	s := scheduler.New(store, exec, nil, scheduler.Options{MaxConcurrency: 1})
	startScheduler(t, s)

	waitForState(t, store, low.ID, jobs.StateCompleted)
	waitForState(t, store, high.ID, jobs.StateCompleted)
	waitForState(t, store, mid.ID, jobs.StateCompleted)

	order := exec.executed()
	if len(order) != 3 || order[0] != high.ID || order[1] != mid.ID || order[2] != low.ID {
		t.Fatalf("unexpected execution order: %v", order)
	}
}

func TestHonorsConcurrencyLimit(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	exec := &stubExecutor{started: make(chan int64, 4), release: make(chan struct{})}

	first := testsupport.Enqueue(t, store, "remux", "/recordings/a.mkv", 50)
	second := testsupport.Enqueue(t, store, "remux", "/recordings/b.mkv", 50)

	s := scheduler.New(store, exec, nil, scheduler.Options{MaxConcurrency: 1})
	startScheduler(t, s)

	<-exec.started
	if got := s.RunningCount(); got != 1 {
		t.Fatalf("expected one running job, got %d", got)
	}
	select {
	case id := <-exec.started:
		t.Fatalf("job %d started past the concurrency limit", id)
	case <-time.After(100 * time.Millisecond):
	}

	close(exec.release)
	waitForState(t, store, first.ID, jobs.StateCompleted)
	waitForState(t, store, second.ID, jobs.StateCompleted)
}

func TestGateDefersBlockedJob(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	exec := &stubExecutor{}

	gate := func(ctx context.Context, job *jobs.Job) guardrails.Decision {
		return guardrails.Blocked("recording", time.Minute)
	}

	job := testsupport.Enqueue(t, store, "remux", "/recordings/a.mkv", 50)
	s := scheduler.New(store, exec, gate, scheduler.Options{MaxConcurrency: 1})
	startScheduler(t, s)

	deferred := waitForState(t, store, job.ID, jobs.StateDeferred)
	if deferred.BlockedReason != "recording" {
		t.Fatalf("unexpected blocked reason %q", deferred.BlockedReason)
	}
	if deferred.NextRunAt == nil {
		t.Fatal("expected a recheck time")
	}
	if len(exec.executed()) != 0 {
		t.Fatal("blocked job must not execute")
	}
}

func TestForcedJobSkipsGate(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	exec := &stubExecutor{}

	gate := func(ctx context.Context, job *jobs.Job) guardrails.Decision {
		return guardrails.Blocked("recording", time.Minute)
	}

	job, err := store.Enqueue(context.Background(), jobs.NewJob{
		RuleID:   "remux",
		Subject:  "/recordings/a.mkv",
		Trigger:  string(rules.TriggerManual),
		Actions:  []rules.Action{{Type: "notify", Params: map[string]any{"message": "go"}}},
		Priority: 50,
		Forced:   true,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	s := scheduler.New(store, exec, gate, scheduler.Options{MaxConcurrency: 1})
	startScheduler(t, s)

	waitForState(t, store, job.ID, jobs.StateCompleted)
}

func TestCancelRunningJob(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	exec := &stubExecutor{started: make(chan int64, 1), release: make(chan struct{})}

	job := testsupport.Enqueue(t, store, "remux", "/recordings/a.mkv", 50)
	s := scheduler.New(store, exec, nil, scheduler.Options{MaxConcurrency: 1})
	startScheduler(t, s)

	<-exec.started
	if !s.CancelRunning(job.ID) {
		t.Fatal("expected the running job to accept cancellation")
	}

	canceled := waitForState(t, store, job.ID, jobs.StateCanceled)
	if canceled.ErrorMessage != jobs.CancelRequestedReason {
		t.Fatalf("unexpected cancel message %q", canceled.ErrorMessage)
	}
}

func TestFailureRecordsMessage(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	exec := &stubExecutor{err: errors.New("remux exited with status 1")}

	job := testsupport.Enqueue(t, store, "remux", "/recordings/a.mkv", 50)
	s := scheduler.New(store, exec, nil, scheduler.Options{MaxConcurrency: 1})
	startScheduler(t, s)

	failed := waitForState(t, store, job.ID, jobs.StateFailed)
	if failed.ErrorMessage != "remux exited with status 1" {
		t.Fatalf("unexpected error message %q", failed.ErrorMessage)
	}
}

func TestPauseHoldsClaims(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	exec := &stubExecutor{}

	s := scheduler.New(store, exec, nil, scheduler.Options{MaxConcurrency: 1})
	s.Pause()
	startScheduler(t, s)

	job := testsupport.Enqueue(t, store, "remux", "/recordings/a.mkv", 50)
	s.NotifyEnqueued(job)

	time.Sleep(100 * time.Millisecond)
	if len(exec.executed()) != 0 {
		t.Fatal("paused scheduler must not claim jobs")
	}

	s.Resume()
	waitForState(t, store, job.ID, jobs.StateCompleted)
}

func TestOnFinishObservesOutcome(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	exec := &stubExecutor{}

	finished := make(chan *jobs.Job, 1)
	s := scheduler.New(store, exec, nil, scheduler.Options{
		MaxConcurrency: 1,
		OnFinish: func(job *jobs.Job, err error) {
			if err == nil {
				finished <- job
			}
		},
	})

	job := testsupport.Enqueue(t, store, "remux", "/recordings/a.mkv", 50)
	startScheduler(t, s)

	select {
	case got := <-finished:
		if got.ID != job.ID {
			t.Fatalf("expected job %d, got %d", job.ID, got.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("finish hook never fired")
	}
}
