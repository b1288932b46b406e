package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"slate/internal/daemon"
	"slate/internal/jobs"
	"slate/internal/testsupport"
)

const manualRule = `
id = "manual-notify"
name = "Notify on manual events"
priority = 50
trigger = "manual"

[[actions]]
type = "notify"
[actions.params]
message = "manual event handled"
`

func writeRule(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir rules dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write rule file: %v", err)
	}
}

func newDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	writeRule(t, cfg.Paths.RulesDir, "manual.toml", manualRule)

	d, err := daemon.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func waitForJobState(t *testing.T, d *daemon.Daemon, state jobs.State) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		list, err := d.ListJobs(context.Background(), daemon.JobFilter{States: []string{string(state)}})
		if err != nil {
			t.Fatalf("ListJobs: %v", err)
		}
		if len(list) > 0 {
			return list[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no job reached state %s", state)
	return nil
}

func TestManualEventRunsToCompletion(t *testing.T) {
	d := newDaemon(t)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	id, err := d.EmitEvent(daemon.EventInput{Trigger: "manual", Subject: "/recordings/show_001.mkv"})
	if err != nil {
		t.Fatalf("EmitEvent: %v", err)
	}
	if id == "" {
		t.Fatal("expected an assigned event id")
	}

	job := waitForJobState(t, d, jobs.StateCompleted)
	if job.RuleID != "manual-notify" {
		t.Fatalf("unexpected rule %q", job.RuleID)
	}
	if job.EventID != id {
		t.Fatalf("job must carry the event id %q, got %q", id, job.EventID)
	}
}

func TestGuardrailProbeIgnoresDisabledWatchDir(t *testing.T) {
	const guardedRule = `
id = "guarded-notify"
name = "Notify when space allows"
priority = 50
trigger = "manual"

[[actions]]
type = "notify"
[actions.params]
message = "guarded event handled"

[[guardrails]]
type = "min_free_space_gb"
[guardrails.params]
gb = 0.001
`
	// Watch.Dir is set but the watcher is disabled, so the directory is
	// never created; free-space probing must fall back to the log dir.
	cfg := testsupport.NewConfig(t)
	if cfg.Watch.Enabled {
		t.Fatal("test requires a disabled watcher")
	}
	writeRule(t, cfg.Paths.RulesDir, "guarded.toml", guardedRule)

	d, err := daemon.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if _, err := d.EmitEvent(daemon.EventInput{Trigger: "manual", Subject: "/recordings/show_002.mkv"}); err != nil {
		t.Fatalf("EmitEvent: %v", err)
	}

	job := waitForJobState(t, d, jobs.StateCompleted)
	if job.RuleID != "guarded-notify" {
		t.Fatalf("unexpected rule %q", job.RuleID)
	}
	if job.BlockedReason != "" {
		t.Fatalf("job should clear the guardrail, got blocked %q", job.BlockedReason)
	}
}

func TestEmitEventRejectsUnknownTrigger(t *testing.T) {
	d := newDaemon(t)

	if _, err := d.EmitEvent(daemon.EventInput{Trigger: "disk_inserted"}); err == nil {
		t.Fatal("expected an unknown trigger to be rejected")
	}
}

func TestSecondInstanceRefused(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	writeRule(t, cfg.Paths.RulesDir, "manual.toml", manualRule)

	first, err := daemon.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer first.Close()
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	second, err := daemon.New(cfg, nil)
	if err != nil {
		t.Fatalf("New second: %v", err)
	}
	defer second.Close()
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected the lock to refuse a second instance")
	}
}

func TestReloadRulesReportsDiff(t *testing.T) {
	d := newDaemon(t)
	ctx := context.Background()

	summary, err := d.ReloadRules(ctx)
	if err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}
	if summary.Loaded != 1 || len(summary.Added) != 1 {
		t.Fatalf("unexpected initial summary %+v", summary)
	}

	infos, problems := d.Rules()
	if len(infos) != 1 || infos[0].ID != "manual-notify" {
		t.Fatalf("unexpected rules %+v", infos)
	}
	if len(problems) != 0 {
		t.Fatalf("unexpected problems %v", problems)
	}
}

func TestStatusReportsPaths(t *testing.T) {
	d := newDaemon(t)

	status := d.Status(context.Background())
	if status.Running {
		t.Fatal("daemon must report stopped before Start")
	}
	if status.DBPath == "" || status.LockPath == "" || status.SocketPath == "" {
		t.Fatalf("expected populated paths, got %+v", status)
	}
	if status.RulesLoaded != 0 {
		t.Fatal("rules load at Start, not construction")
	}
}
