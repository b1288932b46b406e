package ipc_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"slate/internal/config"
	"slate/internal/daemon"
	"slate/internal/ipc"
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

[[guardrails]]
type = "max_concurrent_jobs"
[guardrails.params]
limit = 2
`

func startServer(t *testing.T) *ipc.Client {
	t.Helper()
	return startServerWithRule(t, "manual.toml", manualRule)
}

func startServerWithRule(t *testing.T, name, rule string, opts ...testsupport.ConfigOption) *ipc.Client {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	if err := os.MkdirAll(cfg.Paths.RulesDir, 0o755); err != nil {
		t.Fatalf("mkdir rules dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Paths.RulesDir, name), []byte(rule), 0o644); err != nil {
		t.Fatalf("write rule: %v", err)
	}

	d, err := daemon.New(cfg, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	server, err := ipc.NewServer(ctx, cfg.SocketPath(), d, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	server.Serve()
	t.Cleanup(server.Close)

	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStartStatusStopRoundTrip(t *testing.T) {
	client := startServer(t)

	started, err := client.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !started.Started {
		t.Fatalf("engine refused to start: %s", started.Message)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.RulesLoaded != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	stopped, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stopped.Stopped {
		t.Fatal("expected the engine to stop")
	}
}

func TestEventEmitCreatesJob(t *testing.T) {
	client := startServer(t)

	if _, err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Stop()

	emitted, err := client.EventEmit(ipc.EventEmitRequest{
		Trigger: "manual",
		Subject: "/recordings/show_001.mkv",
	})
	if err != nil {
		t.Fatalf("EventEmit: %v", err)
	}
	if emitted.EventID == "" {
		t.Fatal("expected an event id")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		list, err := client.JobList(ipc.JobListRequest{States: []string{"completed"}})
		if err != nil {
			t.Fatalf("JobList: %v", err)
		}
		if len(list.Jobs) == 1 {
			if list.Jobs[0].RuleID != "manual-notify" {
				t.Fatalf("unexpected job %+v", list.Jobs[0])
			}
			shown, err := client.JobShow(list.Jobs[0].ID)
			if err != nil {
				t.Fatalf("JobShow: %v", err)
			}
			if shown.Job.EventID != emitted.EventID {
				t.Fatalf("job event id %q does not match emitted %q", shown.Job.EventID, emitted.EventID)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("job never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRuleTestUsesSnapshotOverride(t *testing.T) {
	client := startServer(t)

	if _, err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Stop()

	result, err := client.RuleTest(ipc.RuleTestRequest{
		RuleID:   "manual-notify",
		Trigger:  "manual",
		Subject:  "/recordings/show_001.mkv",
		Snapshot: &ipc.SnapshotOverride{RunningJobs: 5},
	})
	if err != nil {
		t.Fatalf("RuleTest: %v", err)
	}
	if !result.Trace.WouldBlock || result.Trace.BlockReason != "max_concurrent_jobs" {
		t.Fatalf("expected the pinned snapshot to block, got %+v", result.Trace)
	}
	if result.Trace.ShouldExecute {
		t.Fatal("a blocked trace must not report should_execute")
	}

	// Dry runs leave no jobs behind.
	list, err := client.JobList(ipc.JobListRequest{})
	if err != nil {
		t.Fatalf("JobList: %v", err)
	}
	if len(list.Jobs) != 0 {
		t.Fatalf("dry run created jobs: %+v", list.Jobs)
	}
}

func TestRuleTestPinsEvaluationTime(t *testing.T) {
	const nightRule = `
id = "night-batch"
name = "Overnight batch work"
priority = 10
trigger = "manual"

[active_hours]
enabled = true
start = "22:00"
end = "06:00"
weekdays = [1, 2, 3, 4, 5]

[[actions]]
type = "notify"
[actions.params]
message = "overnight window open"
`
	client := startServerWithRule(t, "night.toml", nightRule, func(cfg *config.Config) {
		cfg.Engine.Timezone = "UTC"
	})

	if _, err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Stop()

	inside := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	result, err := client.RuleTest(ipc.RuleTestRequest{
		RuleID:  "night-batch",
		Trigger: "manual",
		Subject: "/recordings/show_001.mkv",
		At:      &inside,
	})
	if err != nil {
		t.Fatalf("RuleTest: %v", err)
	}
	if !result.Trace.ActiveHoursMatch || !result.Trace.ShouldExecute {
		t.Fatalf("23:00 is inside the window, got %+v", result.Trace)
	}

	outside := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	result, err = client.RuleTest(ipc.RuleTestRequest{
		RuleID:  "night-batch",
		Trigger: "manual",
		Subject: "/recordings/show_001.mkv",
		At:      &outside,
	})
	if err != nil {
		t.Fatalf("RuleTest: %v", err)
	}
	if result.Trace.ActiveHoursMatch || result.Trace.ShouldExecute {
		t.Fatalf("noon is outside the window, got %+v", result.Trace)
	}
}

func TestUnknownRuleTestFails(t *testing.T) {
	client := startServer(t)

	if _, err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Stop()

	if _, err := client.RuleTest(ipc.RuleTestRequest{RuleID: "absent", Trigger: "manual"}); err == nil {
		t.Fatal("expected an unknown rule to error")
	}
}

func TestQueuePauseResume(t *testing.T) {
	client := startServer(t)

	if _, err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Stop()

	if _, err := client.QueuePause(); err != nil {
		t.Fatalf("QueuePause: %v", err)
	}
	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Paused {
		t.Fatal("expected a paused queue")
	}

	if _, err := client.QueueResume(); err != nil {
		t.Fatalf("QueueResume: %v", err)
	}
	status, err = client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Paused {
		t.Fatal("expected a resumed queue")
	}
}
