package testsupport

import (
	"context"
	"testing"

	"slate/internal/config"
	"slate/internal/jobs"
	"slate/internal/rules"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Enqueue creates a queued job for tests using the provided store.
func Enqueue(t testing.TB, store *jobs.Store, ruleID, subject string, priority int) *jobs.Job {
	t.Helper()

	job, err := store.Enqueue(context.Background(), jobs.NewJob{
		RuleID:   ruleID,
		RuleHash: "testhash",
		Subject:  subject,
		Trigger:  string(rules.TriggerFileClosed),
		Actions:  []rules.Action{{Type: "notify", Params: map[string]any{"message": "test"}}},
		Priority: priority,
	})
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return job
}
