package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"slate/internal/rules"
)

// State represents the lifecycle of a job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateDeferred  State = "deferred"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

var allStates = []State{
	StateQueued,
	StateRunning,
	StateDeferred,
	StateCompleted,
	StateFailed,
	StateCanceled,
}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

// AllStates returns the ordered list of known states.
func AllStates() []State {
	cp := make([]State, len(allStates))
	copy(cp, allStates)
	return cp
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stateSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a state admits no further transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	}
	return false
}

// CancelRequestedReason is the error message recorded when a running job is
// stopped on user request.
const CancelRequestedReason = "canceled by user"

// Job is a persisted execution request for a rule's action list.
type Job struct {
	ID            int64
	RuleID        string
	RuleHash      string
	Subject       string
	EventID       string
	Trigger       string
	ActionsJSON   string
	Priority      int
	State         State
	BlockedReason string
	Forced        bool
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	NextRunAt     *time.Time
	StartedAt     *time.Time
	EndedAt       *time.Time
}

// Actions decodes the job's frozen action list.
func (j *Job) Actions() ([]rules.Action, error) {
	if j.ActionsJSON == "" {
		return nil, nil
	}
	var actions []rules.Action
	if err := json.Unmarshal([]byte(j.ActionsJSON), &actions); err != nil {
		return nil, fmt.Errorf("decode actions for job %d: %w", j.ID, err)
	}
	return actions, nil
}

// NewJob carries the fields frozen into a job at creation time.
type NewJob struct {
	RuleID   string
	RuleHash string
	Subject  string
	EventID  string
	Trigger  string
	Actions  []rules.Action
	Priority int
	Forced   bool
}

// Outcome reports the per-job result of a bulk operation.
type Outcome struct {
	ID    int64
	OK    bool
	Error string
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total     int
	Queued    int
	Running   int
	Deferred  int
	Completed int
	Failed    int
	Canceled  int
}

// DatabaseHealth captures diagnostic information about the job database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}
