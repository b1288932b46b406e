package recheck_test

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"slate/internal/guardrails"
	"slate/internal/jobs"
	"slate/internal/recheck"
	"slate/internal/rules"
	"slate/internal/testsupport"
)

func deferJob(t *testing.T, store *jobs.Store, subject string, nextRun time.Time) *jobs.Job {
	t.Helper()
	job, err := store.EnqueueDeferred(context.Background(), jobs.NewJob{
		RuleID:   "remux",
		RuleHash: "abc",
		Subject:  subject,
		Trigger:  string(rules.TriggerFileClosed),
		Actions:  []rules.Action{{Type: "remux", Params: map[string]any{"container": "mkv"}}},
		Priority: 50,
	}, "recording", nextRun)
	if err != nil {
		t.Fatalf("EnqueueDeferred: %v", err)
	}
	return job
}

func TestSweepPromotesClearJobs(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	due := deferJob(t, store, "/recordings/a.mkv", time.Now().UTC().Add(-time.Second))
	future := deferJob(t, store, "/recordings/b.mkv", time.Now().UTC().Add(time.Hour))

	var promoted []*jobs.Job
	allow := func(ctx context.Context, job *jobs.Job) guardrails.Decision {
		return guardrails.Decision{Allow: true}
	}
	loop := recheck.New(store, allow, time.Second, func(job *jobs.Job) {
		promoted = append(promoted, job)
	}, nil)

	loop.Sweep(context.Background())

	queued, err := store.GetByID(context.Background(), due.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if queued.State != jobs.StateQueued {
		t.Fatalf("expected the due job queued, got %s", queued.State)
	}
	if len(promoted) != 1 || promoted[0].ID != due.ID {
		t.Fatalf("expected one promotion callback for job %d, got %v", due.ID, promoted)
	}

	still, err := store.GetByID(context.Background(), future.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if still.State != jobs.StateDeferred {
		t.Fatalf("expected the future job untouched, got %s", still.State)
	}
}

func TestSweepReDefersBlockedJobs(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	job := deferJob(t, store, "/recordings/a.mkv", time.Now().UTC().Add(-time.Second))

	block := func(ctx context.Context, j *jobs.Job) guardrails.Decision {
		return guardrails.Blocked("low_disk_space", 2*time.Minute)
	}
	loop := recheck.New(store, block, time.Second, nil, nil)

	before := time.Now().UTC()
	loop.Sweep(context.Background())

	still, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if still.State != jobs.StateDeferred {
		t.Fatalf("expected the job still deferred, got %s", still.State)
	}
	if still.BlockedReason != "low_disk_space" {
		t.Fatalf("expected the reason to refresh, got %q", still.BlockedReason)
	}
	if still.NextRunAt == nil || still.NextRunAt.Before(before.Add(time.Minute)) {
		t.Fatalf("expected the recheck time pushed out, got %v", still.NextRunAt)
	}
}

func TestSweepReportsJobsWithoutRecheckTime(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := deferJob(t, store, "/recordings/a.mkv", time.Now().UTC().Add(time.Hour))

	db, err := sql.Open("sqlite", filepath.Join(cfg.Paths.LogDir, "jobs.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, `UPDATE jobs SET next_run_at = NULL WHERE id = ?`, job.ID); err != nil {
		t.Fatalf("clear next_run_at: %v", err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError}))
	loop := recheck.New(store, nil, time.Second, nil, logger)

	loop.Sweep(ctx)
	if !strings.Contains(buf.String(), "deferred job has no recheck time") {
		t.Fatalf("expected an error report for the stranded job, got %q", buf.String())
	}

	// The report fires once per job, not on every sweep.
	buf.Reset()
	loop.Sweep(ctx)
	if strings.Contains(buf.String(), "deferred job has no recheck time") {
		t.Fatal("expected the stranded job reported only once")
	}
}

func TestRunTicksUntilCanceled(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	job := deferJob(t, store, "/recordings/a.mkv", time.Now().UTC().Add(-time.Second))

	allow := func(ctx context.Context, j *jobs.Job) guardrails.Decision {
		return guardrails.Decision{Allow: true}
	}
	loop := recheck.New(store, allow, 20*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		current, err := store.GetByID(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if current.State == jobs.StateQueued {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recheck loop did not stop")
	}

	final, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.State != jobs.StateQueued {
		t.Fatalf("expected the job promoted by the ticking loop, got %s", final.State)
	}
}
