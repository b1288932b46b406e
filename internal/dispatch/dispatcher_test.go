package dispatch_test

import (
	"context"
	"testing"
	"time"

	"slate/internal/dispatch"
	"slate/internal/guardrails"
	"slate/internal/jobs"
	"slate/internal/rules"
	"slate/internal/testsupport"
)

func compileRule(t *testing.T, mutate func(*rules.Document)) *rules.Rule {
	t.Helper()
	doc := rules.Document{
		ID:       "remux-recordings",
		Name:     "Remux finished recordings",
		Enabled:  true,
		Priority: 80,
		Trigger:  "file_closed",
		Conditions: []rules.StepDoc{
			{Type: "extension_in", Params: map[string]any{"values": []any{"mkv"}}},
		},
		Actions: []rules.StepDoc{
			{Type: "remux", Params: map[string]any{"container": "mp4"}},
		},
		Guardrails: []rules.StepDoc{
			{Type: "pause_if_recording", Params: map[string]any{}},
		},
	}
	if mutate != nil {
		mutate(&doc)
	}
	rule, errs := rules.Compile(doc)
	if len(errs) > 0 {
		t.Fatalf("compile: %v", errs)
	}
	return rule
}

func newDispatcher(t *testing.T, store *jobs.Store, snapshot guardrails.Snapshot, ruleList ...*rules.Rule) (*dispatch.Dispatcher, chan *jobs.Job) {
	t.Helper()
	ruleset := dispatch.NewRuleSet()
	ruleset.Replace(ruleList)

	guard := guardrails.NewEvaluator(guardrails.StaticProvider(snapshot), time.Second, time.Minute, nil)
	queued := make(chan *jobs.Job, 8)
	d := dispatch.New(ruleset, store, guard, dispatch.Options{
		DefaultRetryDelay: time.Minute,
		Location:          time.UTC,
		OnQueued:          func(job *jobs.Job) { queued <- job },
	})
	t.Cleanup(d.Debouncer().Close)
	return d, queued
}

func closedFileEvent(subject string) rules.Event {
	return rules.Event{
		ID:        "evt-1",
		Trigger:   rules.TriggerFileClosed,
		Subject:   subject,
		Timestamp: time.Date(2026, 1, 2, 23, 30, 0, 0, time.UTC),
		Payload:   map[string]any{"path": subject, "size_bytes": float64(500 * 1024 * 1024)},
	}
}

func TestDispatchQueuesMatchingEvent(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	d, queued := newDispatcher(t, store, guardrails.Snapshot{FreeSpaceGB: 500}, compileRule(t, nil))

	d.Dispatch(closedFileEvent("/recordings/show_001.mkv"))

	select {
	case job := <-queued:
		if job.RuleID != "remux-recordings" || job.State != jobs.StateQueued {
			t.Fatalf("unexpected job %+v", job)
		}
		if job.Priority != 80 {
			t.Fatalf("expected rule priority frozen on the job, got %d", job.Priority)
		}
		if job.EventID != "evt-1" {
			t.Fatalf("expected event id frozen on the job, got %q", job.EventID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a queued job")
	}
}

func TestDispatchIgnoresNonMatchingConditions(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	d, _ := newDispatcher(t, store, guardrails.Snapshot{}, compileRule(t, nil))

	d.Dispatch(closedFileEvent("/recordings/show_001.wav"))

	time.Sleep(50 * time.Millisecond)
	listed, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected no jobs, got %d", len(listed))
	}
}

func TestDispatchSkipsDisabledRules(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	rule := compileRule(t, func(doc *rules.Document) { doc.Enabled = false })
	d, _ := newDispatcher(t, store, guardrails.Snapshot{}, rule)

	d.Dispatch(closedFileEvent("/recordings/show_001.mkv"))

	time.Sleep(50 * time.Millisecond)
	listed, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected no jobs from a disabled rule, got %d", len(listed))
	}
}

func TestDispatchHardSkipsOutsideActiveHours(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	rule := compileRule(t, func(doc *rules.Document) {
		doc.ActiveHours = &rules.ActiveHoursDoc{
			Enabled:  true,
			Start:    "22:00",
			End:      "06:00",
			Weekdays: []int{5, 6, 7},
		}
	})
	d, _ := newDispatcher(t, store, guardrails.Snapshot{FreeSpaceGB: 500}, rule)

	event := closedFileEvent("/recordings/show_001.mkv")
	// 2026-01-06 is a Tuesday, outside the weekend window.
	event.Timestamp = time.Date(2026, 1, 6, 23, 30, 0, 0, time.UTC)
	d.Dispatch(event)

	time.Sleep(50 * time.Millisecond)
	listed, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected a hard skip, got %d jobs", len(listed))
	}
}

func TestDispatchDefersOnGuardrailBlock(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	d, _ := newDispatcher(t, store, guardrails.Snapshot{RecordingActive: true}, compileRule(t, nil))

	d.Dispatch(closedFileEvent("/recordings/show_001.mkv"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		listed, err := store.List(context.Background(), jobs.StateDeferred)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(listed) == 1 {
			if listed[0].BlockedReason != "recording" {
				t.Fatalf("unexpected blocked reason %q", listed[0].BlockedReason)
			}
			if listed[0].NextRunAt == nil {
				t.Fatal("expected a recheck time on the deferred job")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("expected a deferred job")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDispatchNotifiesDeferredObserver(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ruleset := dispatch.NewRuleSet()
	ruleset.Replace([]*rules.Rule{compileRule(t, nil)})

	guard := guardrails.NewEvaluator(guardrails.StaticProvider(guardrails.Snapshot{RecordingActive: true}), time.Second, time.Minute, nil)
	deferred := make(chan *jobs.Job, 1)
	d := dispatch.New(ruleset, store, guard, dispatch.Options{
		DefaultRetryDelay: time.Minute,
		Location:          time.UTC,
		OnDeferred:        func(job *jobs.Job) { deferred <- job },
	})
	t.Cleanup(d.Debouncer().Close)

	d.Dispatch(closedFileEvent("/recordings/show_001.mkv"))

	select {
	case job := <-deferred:
		if job.State != jobs.StateDeferred || job.BlockedReason != "recording" {
			t.Fatalf("unexpected deferred job %+v", job)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the deferred job to reach the observer")
	}
}

func TestDispatchCoalescesBurstWithinQuietPeriod(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	rule := compileRule(t, func(doc *rules.Document) { doc.QuietPeriodSec = 1 })
	d, queued := newDispatcher(t, store, guardrails.Snapshot{FreeSpaceGB: 500}, rule)

	event := closedFileEvent("/recordings/show_001.mkv")
	d.Dispatch(event)
	d.Dispatch(event)
	d.Dispatch(event)

	select {
	case <-queued:
	case <-time.After(3 * time.Second):
		t.Fatal("expected the settled burst to queue a job")
	}

	listed, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one job for the burst, got %d", len(listed))
	}
}

func TestRuleSetReplaceReportsDiff(t *testing.T) {
	ruleset := dispatch.NewRuleSet()

	remux := compileRule(t, nil)
	archive := compileRule(t, func(doc *rules.Document) {
		doc.ID = "archive-raw"
		doc.Name = "Archive raw footage"
	})
	added, changed, removed := ruleset.Replace([]*rules.Rule{remux, archive})
	if len(added) != 2 || len(changed) != 0 || len(removed) != 0 {
		t.Fatalf("unexpected diff: added=%v changed=%v removed=%v", added, changed, removed)
	}

	// Same documents again: nothing changes and compile times are preserved.
	remuxAgain := compileRule(t, nil)
	added, changed, removed = ruleset.Replace([]*rules.Rule{remuxAgain, archive})
	if len(added) != 0 || len(changed) != 0 || len(removed) != 0 {
		t.Fatalf("unexpected diff on reload: added=%v changed=%v removed=%v", added, changed, removed)
	}
	if !ruleset.Get("remux-recordings").CompiledAt.Equal(remux.CompiledAt) {
		t.Fatal("expected an unchanged rule to keep its compile time")
	}

	// A content change and a removal.
	edited := compileRule(t, func(doc *rules.Document) { doc.Priority = 90 })
	added, changed, removed = ruleset.Replace([]*rules.Rule{edited})
	if len(added) != 0 || len(changed) != 1 || changed[0] != "remux-recordings" {
		t.Fatalf("unexpected diff: added=%v changed=%v", added, changed)
	}
	if len(removed) != 1 || removed[0] != "archive-raw" {
		t.Fatalf("unexpected removals: %v", removed)
	}
}

func TestRuleSetOrdersByPriorityThenCompileTime(t *testing.T) {
	ruleset := dispatch.NewRuleSet()

	older := compileRule(t, func(doc *rules.Document) { doc.ID = "older"; doc.Priority = 50 })
	time.Sleep(5 * time.Millisecond)
	newer := compileRule(t, func(doc *rules.Document) { doc.ID = "newer"; doc.Priority = 50 })
	high := compileRule(t, func(doc *rules.Document) { doc.ID = "high"; doc.Priority = 90 })

	ruleset.Replace([]*rules.Rule{newer, older, high})

	matched := ruleset.ByTrigger(rules.TriggerFileClosed)
	if len(matched) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(matched))
	}
	if matched[0].ID != "high" || matched[1].ID != "older" || matched[2].ID != "newer" {
		t.Fatalf("unexpected order: %s, %s, %s", matched[0].ID, matched[1].ID, matched[2].ID)
	}
}

func TestTraceExplainsDecisionWithoutSideEffects(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	rule := compileRule(t, func(doc *rules.Document) {
		doc.QuietPeriodSec = 45
		doc.ActiveHours = &rules.ActiveHoursDoc{
			Enabled:  true,
			Start:    "22:00",
			End:      "06:00",
			Weekdays: []int{5, 6, 7},
		}
	})
	d, _ := newDispatcher(t, store, guardrails.Snapshot{FreeSpaceGB: 500}, rule)

	snapshot := &guardrails.Snapshot{RecordingActive: true}
	trace, err := d.Trace(context.Background(), "remux-recordings", closedFileEvent("/recordings/show_001.mkv"), snapshot)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if !trace.TriggerMatch || !trace.ConditionsMatch || !trace.ActiveHoursMatch {
		t.Fatalf("unexpected match flags: %+v", trace)
	}
	if !trace.WouldBlock || trace.BlockReason != "recording" {
		t.Fatalf("expected a recording block, got %+v", trace)
	}
	if trace.ShouldExecute {
		t.Fatal("a blocked dry run must not report should_execute")
	}
	if trace.QuietPeriodActive {
		t.Fatal("no hold exists for this subject")
	}

	allowed, err := d.Trace(context.Background(), "remux-recordings", closedFileEvent("/recordings/show_001.mkv"), &guardrails.Snapshot{FreeSpaceGB: 500})
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if !allowed.ShouldExecute {
		t.Fatalf("expected a clear dry run to execute: %+v", allowed)
	}

	// Dry runs never create jobs.
	listed, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected no jobs from dry runs, got %d", len(listed))
	}

	if _, err := d.Trace(context.Background(), "missing-rule", closedFileEvent("/a.mkv"), nil); err == nil {
		t.Fatal("expected an error for an unknown rule")
	}
}
