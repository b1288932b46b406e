package ipc

import (
	"time"

	"slate/internal/dispatch"
	"slate/internal/jobs"
)

// StartRequest starts the engine inside a running slated process.
type StartRequest struct{}

// StartResponse indicates whether the engine was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the engine without exiting the process.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the combined engine status view.
type StatusResponse struct {
	Running       bool           `json:"running"`
	PID           int            `json:"pid"`
	StartedAt     time.Time      `json:"started_at"`
	Paused        bool           `json:"paused"`
	RulesLoaded   int            `json:"rules_loaded"`
	RuleProblems  []string       `json:"rule_problems,omitempty"`
	JobStats      map[string]int `json:"job_stats"`
	RunningJobIDs []int64        `json:"running_job_ids,omitempty"`
	PendingEvents int            `json:"pending_events"`
	DBPath        string         `json:"db_path"`
	LockPath      string         `json:"lock_path"`
	SocketPath    string         `json:"socket_path"`
	LogPath       string         `json:"log_path"`
}

// JobItem mirrors a stored job for display.
type JobItem struct {
	ID            int64      `json:"id"`
	RuleID        string     `json:"rule_id"`
	RuleHash      string     `json:"rule_hash"`
	Subject       string     `json:"subject"`
	EventID       string     `json:"event_id"`
	Trigger       string     `json:"trigger"`
	ActionsJSON   string     `json:"actions_json"`
	Priority      int        `json:"priority"`
	State         string     `json:"state"`
	BlockedReason string     `json:"blocked_reason,omitempty"`
	Forced        bool       `json:"forced"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

func fromJob(job *jobs.Job) JobItem {
	return JobItem{
		ID:            job.ID,
		RuleID:        job.RuleID,
		RuleHash:      job.RuleHash,
		Subject:       job.Subject,
		EventID:       job.EventID,
		Trigger:       job.Trigger,
		ActionsJSON:   job.ActionsJSON,
		Priority:      job.Priority,
		State:         string(job.State),
		BlockedReason: job.BlockedReason,
		Forced:        job.Forced,
		ErrorMessage:  job.ErrorMessage,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
		NextRunAt:     job.NextRunAt,
		StartedAt:     job.StartedAt,
		EndedAt:       job.EndedAt,
	}
}

// JobOutcome is the per-job result of a bulk operation.
type JobOutcome struct {
	ID    int64  `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func fromOutcomes(outcomes []jobs.Outcome) []JobOutcome {
	out := make([]JobOutcome, 0, len(outcomes))
	for _, outcome := range outcomes {
		out = append(out, JobOutcome{ID: outcome.ID, OK: outcome.OK, Error: outcome.Error})
	}
	return out
}

// JobListRequest filters, orders, and pages a job listing. Sort accepts
// "scheduling" (default), "created", or "updated"; a zero Limit means all.
type JobListRequest struct {
	States []string `json:"states"`
	Sort   string   `json:"sort,omitempty"`
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
}

// JobListResponse contains jobs in scheduling order.
type JobListResponse struct {
	Jobs []JobItem `json:"jobs"`
}

// JobShowRequest fetches a single job by id.
type JobShowRequest struct {
	ID int64 `json:"id"`
}

// JobShowResponse contains one job.
type JobShowResponse struct {
	Job JobItem `json:"job"`
}

// JobCancelRequest cancels jobs; running jobs are interrupted.
type JobCancelRequest struct {
	IDs []int64 `json:"ids"`
}

// JobCancelResponse reports per-job cancel outcomes.
type JobCancelResponse struct {
	Outcomes []JobOutcome `json:"outcomes"`
}

// JobRetryRequest requeues failed jobs.
type JobRetryRequest struct {
	IDs []int64 `json:"ids"`
}

// JobRetryResponse reports per-job retry outcomes.
type JobRetryResponse struct {
	Outcomes []JobOutcome `json:"outcomes"`
}

// JobForceRunRequest promotes deferred jobs past their guardrails.
type JobForceRunRequest struct {
	IDs []int64 `json:"ids"`
}

// JobForceRunResponse reports per-job force-run outcomes.
type JobForceRunResponse struct {
	Outcomes []JobOutcome `json:"outcomes"`
}

// QueuePauseRequest holds back new job starts.
type QueuePauseRequest struct{}

// QueuePauseResponse confirms the pause.
type QueuePauseResponse struct {
	Paused bool `json:"paused"`
}

// QueueResumeRequest reopens worker slots.
type QueueResumeRequest struct{}

// QueueResumeResponse confirms the resume.
type QueueResumeResponse struct {
	Resumed bool `json:"resumed"`
}

// QueueClearRequest cancels every queued job.
type QueueClearRequest struct{}

// QueueClearResponse reports the number of canceled jobs.
type QueueClearResponse struct {
	Removed int64 `json:"removed"`
}

// QueueStatsRequest fetches job counts per state.
type QueueStatsRequest struct{}

// QueueStatsResponse contains job counts keyed by state name.
type QueueStatsResponse struct {
	Stats map[string]int `json:"stats"`
}

// QueueHealthRequest fetches aggregate queue diagnostics.
type QueueHealthRequest struct{}

// QueueHealthResponse contains aggregate job counts.
type QueueHealthResponse struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Deferred  int `json:"deferred"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Canceled  int `json:"canceled"`
}

// DatabaseHealthRequest fetches detailed database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse mirrors the store's database health report.
type DatabaseHealthResponse struct {
	DBPath           string `json:"db_path"`
	DatabaseExists   bool   `json:"database_exists"`
	DatabaseReadable bool   `json:"database_readable"`
	TableExists      bool   `json:"table_exists"`
	IntegrityCheck   bool   `json:"integrity_check"`
	TotalJobs        int    `json:"total_jobs"`
	Error            string `json:"error,omitempty"`
}

// RuleSummary is a display-oriented view of one installed rule.
type RuleSummary struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Enabled        bool      `json:"enabled"`
	Priority       int       `json:"priority"`
	Trigger        string    `json:"trigger"`
	QuietPeriodSec int       `json:"quiet_period_sec"`
	ActiveHours    string    `json:"active_hours"`
	Conditions     int       `json:"conditions"`
	Actions        int       `json:"actions"`
	Guardrails     int       `json:"guardrails"`
	Hash           string    `json:"hash"`
	CompiledAt     time.Time `json:"compiled_at"`
}

// RulesListRequest fetches the installed rule set.
type RulesListRequest struct{}

// RulesListResponse contains rules in scheduling precedence order.
type RulesListResponse struct {
	Rules    []RuleSummary `json:"rules"`
	Problems []string      `json:"problems,omitempty"`
}

// RulesReloadRequest re-reads the rules directory.
type RulesReloadRequest struct{}

// RulesReloadResponse reports the rule-set diff from the reload.
type RulesReloadResponse struct {
	Loaded   int      `json:"loaded"`
	Added    []string `json:"added,omitempty"`
	Changed  []string `json:"changed,omitempty"`
	Removed  []string `json:"removed,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

// SnapshotOverride pins guardrail inputs for a dry-run rule test.
type SnapshotOverride struct {
	RecordingActive bool    `json:"recording_active"`
	CPUPercent      float64 `json:"cpu_percent"`
	FreeSpaceGB     float64 `json:"free_space_gb"`
	RunningJobs     int     `json:"running_jobs"`
}

// RuleTestRequest dry-runs an event against one rule. At pins the event
// timestamp so active-hours windows can be probed for arbitrary times.
type RuleTestRequest struct {
	RuleID   string            `json:"rule_id"`
	Trigger  string            `json:"trigger"`
	Subject  string            `json:"subject"`
	Payload  map[string]any    `json:"payload,omitempty"`
	At       *time.Time        `json:"at,omitempty"`
	Snapshot *SnapshotOverride `json:"snapshot,omitempty"`
}

// RuleTestResponse contains the dry-run trace.
type RuleTestResponse struct {
	Trace dispatch.Trace `json:"trace"`
}

// EventEmitRequest injects an event into the engine.
type EventEmitRequest struct {
	Trigger string         `json:"trigger"`
	Subject string         `json:"subject"`
	Payload map[string]any `json:"payload,omitempty"`
}

// EventEmitResponse carries the assigned event id.
type EventEmitResponse struct {
	EventID string `json:"event_id"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int64 `json:"wait_millis"`
}

// LogTailResponse contains log lines and the offset to resume from.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest sends a test push.
type TestNotificationRequest struct{}

// TestNotificationResponse reports whether the push went out.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
