package debounce_test

import (
	"sync"
	"testing"
	"time"

	"slate/internal/debounce"
	"slate/internal/rules"
)

type fired struct {
	rule  *rules.Rule
	event rules.Event
}

type recorder struct {
	mu    sync.Mutex
	fires []fired
	ch    chan fired
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan fired, 16)}
}

func (r *recorder) fire(rule *rules.Rule, event rules.Event) {
	r.mu.Lock()
	r.fires = append(r.fires, fired{rule: rule, event: event})
	r.mu.Unlock()
	r.ch <- fired{rule: rule, event: event}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fires)
}

func (r *recorder) wait(t *testing.T) fired {
	t.Helper()
	select {
	case f := <-r.ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a fire")
		return fired{}
	}
}

func quietRule(id string, quiet time.Duration) *rules.Rule {
	return &rules.Rule{ID: id, QuietPeriod: quiet}
}

func event(subject string, payload map[string]any) rules.Event {
	return rules.Event{
		Trigger:   rules.TriggerFileClosed,
		Subject:   subject,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

func TestZeroQuietPeriodFiresImmediately(t *testing.T) {
	rec := newRecorder()
	d := debounce.New(rec.fire, nil)
	defer d.Close()

	d.Observe(quietRule("instant", 0), event("/recordings/a.mkv", nil))
	if rec.count() != 1 {
		t.Fatalf("expected a synchronous fire, got %d", rec.count())
	}
	if d.Pending() != 0 {
		t.Fatalf("expected no pending holds, got %d", d.Pending())
	}
}

func TestBurstCoalescesToFinalEvent(t *testing.T) {
	rec := newRecorder()
	d := debounce.New(rec.fire, nil)
	defer d.Close()

	rule := quietRule("remux", 60*time.Millisecond)
	d.Observe(rule, event("/recordings/a.mkv", map[string]any{"seq": int64(1)}))
	time.Sleep(20 * time.Millisecond)
	d.Observe(rule, event("/recordings/a.mkv", map[string]any{"seq": int64(2)}))
	time.Sleep(20 * time.Millisecond)
	d.Observe(rule, event("/recordings/a.mkv", map[string]any{"seq": int64(3)}))

	got := rec.wait(t)
	if seq := got.event.Payload["seq"]; seq != int64(3) {
		t.Fatalf("expected the final event of the burst, got seq %v", seq)
	}

	// The earlier timers were superseded; nothing else may arrive.
	time.Sleep(120 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("expected exactly one fire for the burst, got %d", rec.count())
	}
}

func TestDistinctSubjectsTrackedIndependently(t *testing.T) {
	rec := newRecorder()
	d := debounce.New(rec.fire, nil)
	defer d.Close()

	rule := quietRule("remux", 30*time.Millisecond)
	d.Observe(rule, event("/recordings/a.mkv", nil))
	d.Observe(rule, event("/recordings/b.mkv", nil))

	if d.Pending() != 2 {
		t.Fatalf("expected two independent holds, got %d", d.Pending())
	}
	subjects := map[string]bool{}
	subjects[rec.wait(t).event.Subject] = true
	subjects[rec.wait(t).event.Subject] = true
	if !subjects["/recordings/a.mkv"] || !subjects["/recordings/b.mkv"] {
		t.Fatalf("expected both subjects to fire, got %v", subjects)
	}
}

func TestCancelRuleDropsHolds(t *testing.T) {
	rec := newRecorder()
	d := debounce.New(rec.fire, nil)
	defer d.Close()

	d.Observe(quietRule("remux", 40*time.Millisecond), event("/recordings/a.mkv", nil))
	d.Observe(quietRule("archive", 40*time.Millisecond), event("/recordings/a.mkv", nil))

	if dropped := d.CancelRule("remux"); dropped != 1 {
		t.Fatalf("expected one dropped hold, got %d", dropped)
	}

	got := rec.wait(t)
	if got.rule.ID != "archive" {
		t.Fatalf("expected only the surviving rule to fire, got %q", got.rule.ID)
	}
	time.Sleep(80 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("expected the canceled hold to stay silent, got %d fires", rec.count())
	}
}

func TestCloseDiscardsHeldEvents(t *testing.T) {
	rec := newRecorder()
	d := debounce.New(rec.fire, nil)

	d.Observe(quietRule("remux", 20*time.Millisecond), event("/recordings/a.mkv", nil))
	d.Close()

	time.Sleep(60 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("expected no fires after close, got %d", rec.count())
	}
}
