package actions

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"slate/internal/jobs"
	"slate/internal/rules"
)

type stubNotifier struct {
	messages []string
}

func (s *stubNotifier) NotifyJobQueued(context.Context, string, string) error           { return nil }
func (s *stubNotifier) NotifyJobDeferred(context.Context, string, string, string) error { return nil }
func (s *stubNotifier) NotifyJobCompleted(context.Context, string, string) error        { return nil }
func (s *stubNotifier) NotifyJobFailed(context.Context, string, string, string) error   { return nil }
func (s *stubNotifier) NotifyJobCanceled(context.Context, string, string) error         { return nil }
func (s *stubNotifier) NotifyRulesReloaded(context.Context, int, int) error             { return nil }
func (s *stubNotifier) NotifyQueuePaused(context.Context) error                         { return nil }
func (s *stubNotifier) NotifyQueueResumed(context.Context) error                        { return nil }
func (s *stubNotifier) NotifyQueueCleared(context.Context, int64) error                 { return nil }
func (s *stubNotifier) NotifyError(context.Context, error, string) error                { return nil }
func (s *stubNotifier) TestNotification(context.Context) error                          { return nil }

func (s *stubNotifier) NotifyRuleMessage(_ context.Context, ruleID, message string) error {
	s.messages = append(s.messages, ruleID+": "+message)
	return nil
}

func jobWithActions(t *testing.T, subject string, list []rules.Action) *jobs.Job {
	t.Helper()
	job := &jobs.Job{ID: 1, RuleID: "remux-recordings", Subject: subject}
	data, err := json.Marshal(list)
	if err != nil {
		t.Fatalf("marshal actions: %v", err)
	}
	job.ActionsJSON = string(data)
	return job
}

func TestMoveAction(t *testing.T) {
	base := t.TempDir()
	source := filepath.Join(base, "show_001.mkv")
	dest := filepath.Join(base, "library")
	if err := os.WriteFile(source, []byte("recording"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	runner := NewRunner(nil, nil)
	job := jobWithActions(t, source, []rules.Action{
		{Type: "move", Params: map[string]any{"dest": dest}},
	})
	if err := runner.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dest, "show_001.mkv")); err != nil {
		t.Fatalf("expected the file at its destination: %v", err)
	}
	if _, err := os.Stat(source); !os.IsNotExist(err) {
		t.Fatal("expected the source gone after move")
	}
}

func TestMoveRefusesOverwrite(t *testing.T) {
	base := t.TempDir()
	source := filepath.Join(base, "show_001.mkv")
	dest := filepath.Join(base, "library")
	if err := os.WriteFile(source, []byte("new"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatalf("mkdir dest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dest, "show_001.mkv"), []byte("old"), 0o644); err != nil {
		t.Fatalf("write existing: %v", err)
	}

	runner := NewRunner(nil, nil)
	job := jobWithActions(t, source, []rules.Action{
		{Type: "move", Params: map[string]any{"dest": dest}},
	})
	if err := runner.Execute(context.Background(), job); err == nil {
		t.Fatal("expected a collision error without overwrite")
	}

	job = jobWithActions(t, source, []rules.Action{
		{Type: "move", Params: map[string]any{"dest": dest, "overwrite": true}},
	})
	if err := runner.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute with overwrite: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "show_001.mkv"))
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if string(data) != "new" {
		t.Fatalf("expected the destination replaced, got %q", data)
	}
}

func TestArchiveActionCopies(t *testing.T) {
	base := t.TempDir()
	source := filepath.Join(base, "show_001.mkv")
	target := filepath.Join(base, "archive")
	if err := os.WriteFile(source, []byte("recording"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	runner := NewRunner(nil, nil)
	job := jobWithActions(t, source, []rules.Action{
		{Type: "archive", Params: map[string]any{"target": target}},
	})
	if err := runner.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if _, err := os.Stat(filepath.Join(target, "show_001.mkv")); err != nil {
		t.Fatalf("expected the archive copy: %v", err)
	}
	if _, err := os.Stat(source); err != nil {
		t.Fatalf("archive must keep the source: %v", err)
	}
}

func TestNotifyActionDeliversMessage(t *testing.T) {
	notifier := &stubNotifier{}
	runner := NewRunner(notifier, nil)

	job := jobWithActions(t, "/recordings/show_001.mkv", []rules.Action{
		{Type: "notify", Params: map[string]any{"message": "remux queued"}},
	})
	if err := runner.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(notifier.messages) != 1 || notifier.messages[0] != "remux-recordings: remux queued" {
		t.Fatalf("unexpected notifications: %v", notifier.messages)
	}
}

func TestFirstFailureAborts(t *testing.T) {
	base := t.TempDir()
	notifier := &stubNotifier{}
	runner := NewRunner(notifier, nil)

	job := jobWithActions(t, filepath.Join(base, "missing.mkv"), []rules.Action{
		{Type: "archive", Params: map[string]any{"target": filepath.Join(base, "archive")}},
		{Type: "notify", Params: map[string]any{"message": "should not send"}},
	})
	if err := runner.Execute(context.Background(), job); err == nil {
		t.Fatal("expected the missing source to fail the job")
	}
	if len(notifier.messages) != 0 {
		t.Fatalf("later actions must not run after a failure: %v", notifier.messages)
	}
}

func TestCanceledContextStopsExecution(t *testing.T) {
	runner := NewRunner(&stubNotifier{}, nil)
	job := jobWithActions(t, "/recordings/show_001.mkv", []rules.Action{
		{Type: "notify", Params: map[string]any{"message": "never"}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := runner.Execute(ctx, job); err == nil {
		t.Fatal("expected a canceled context to abort execution")
	}
}

func TestRemuxArgs(t *testing.T) {
	args := remuxArgs("/recordings/show_001.mkv", "mp4")
	if args[len(args)-1] != "/recordings/show_001.mp4" {
		t.Fatalf("unexpected output path %q", args[len(args)-1])
	}
	if !slices.Contains(args, "copy") {
		t.Fatalf("remux must copy streams, got %v", args)
	}
}

func TestProxyArgs(t *testing.T) {
	args := proxyArgs("/recordings/show_001.mkv", "h264", 720)
	if args[len(args)-1] != "/recordings/show_001_proxy.mp4" {
		t.Fatalf("unexpected output path %q", args[len(args)-1])
	}
	if !slices.Contains(args, "scale=-2:720") {
		t.Fatalf("expected a scale filter, got %v", args)
	}
	if !slices.Contains(args, "libx264") {
		t.Fatalf("expected the h264 encoder, got %v", args)
	}

	prores := proxyArgs("/recordings/show_001.mkv", "prores", 0)
	if prores[len(prores)-1] != "/recordings/show_001_proxy.mov" {
		t.Fatalf("unexpected output path %q", prores[len(prores)-1])
	}
	if slices.Contains(prores, "-vf") {
		t.Fatalf("no scale filter expected without a height, got %v", prores)
	}
}
