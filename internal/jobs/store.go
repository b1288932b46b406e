package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"slate/internal/config"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "jobs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enqueue inserts a new queued job with a frozen action list.
func (s *Store) Enqueue(ctx context.Context, req NewJob) (*Job, error) {
	return s.insert(ctx, req, StateQueued, "", nil)
}

// EnqueueDeferred inserts a job already blocked by a guardrail, due for
// recheck at nextRunAt.
func (s *Store) EnqueueDeferred(ctx context.Context, req NewJob, reason string, nextRunAt time.Time) (*Job, error) {
	if reason == "" {
		return nil, errors.New("deferred job requires a blocked reason")
	}
	return s.insert(ctx, req, StateDeferred, reason, &nextRunAt)
}

func (s *Store) insert(ctx context.Context, req NewJob, state State, reason string, nextRunAt *time.Time) (*Job, error) {
	actionsJSON, err := json.Marshal(req.Actions)
	if err != nil {
		return nil, fmt.Errorf("marshal actions: %w", err)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            rule_id, rule_hash, subject, event_id, trigger_type, actions_json,
            priority, state, blocked_reason, forced, created_at, updated_at, next_run_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.RuleID,
		req.RuleHash,
		req.Subject,
		nullableString(req.EventID),
		req.Trigger,
		string(actionsJSON),
		req.Priority,
		state,
		nullableString(reason),
		boolToInt(req.Forced),
		timestamp,
		timestamp,
		nullableTime(nextRunAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Returns nil when no job exists.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs filtered by state set (or all jobs when no state is
// provided), in scheduling order.
func (s *Store) List(ctx context.Context, states ...State) ([]*Job, error) {
	return s.ListPage(ctx, ListQuery{States: states})
}

// SortOrder selects how ListPage orders its results.
type SortOrder string

const (
	// SortScheduling is the order the scheduler drains the queue in.
	SortScheduling SortOrder = "scheduling"
	// SortCreated lists newest jobs first.
	SortCreated SortOrder = "created"
	// SortUpdated lists most recently touched jobs first.
	SortUpdated SortOrder = "updated"
)

// ParseSortOrder validates a sort order name. Empty means scheduling order.
func ParseSortOrder(raw string) (SortOrder, bool) {
	switch SortOrder(raw) {
	case "", SortScheduling:
		return SortScheduling, true
	case SortCreated:
		return SortCreated, true
	case SortUpdated:
		return SortUpdated, true
	default:
		return "", false
	}
}

// ListQuery filters, orders, and pages a job listing.
type ListQuery struct {
	States []State
	Sort   SortOrder
	Limit  int
	Offset int
}

// ListPage returns jobs matching the query. A zero Limit means no limit.
func (s *Store) ListPage(ctx context.Context, q ListQuery) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any

	if len(q.States) > 0 {
		query += ` WHERE state IN (` + makePlaceholders(len(q.States)) + `)`
		for _, state := range q.States {
			args = append(args, state)
		}
	}

	switch q.Sort {
	case SortCreated:
		query += ` ORDER BY created_at DESC, id DESC`
	case SortUpdated:
		query += ` ORDER BY updated_at DESC, id DESC`
	default:
		query += ` ORDER BY priority DESC, created_at ASC, id ASC`
	}

	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit <= 0 {
			limit = -1 // sqlite: no limit
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobsList []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobsList = append(jobsList, job)
	}
	return jobsList, rows.Err()
}

// DueDeferred returns deferred jobs whose recheck time has arrived.
func (s *Store) DueDeferred(ctx context.Context, now time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE state = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
         ORDER BY priority DESC, created_at ASC, id ASC`,
		StateDeferred,
		now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query due deferred: %w", err)
	}
	defer rows.Close()

	var due []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, job)
	}
	return due, rows.Err()
}

// StrandedDeferred returns ids of deferred jobs missing a recheck time.
// Such rows never become due, so the recheck loop reports them loudly.
func (s *Store) StrandedDeferred(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id FROM jobs WHERE state = ? AND next_run_at IS NULL ORDER BY id ASC`,
		StateDeferred,
	)
	if err != nil {
		return nil, fmt.Errorf("query stranded deferred: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stranded deferred: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkRunning claims a queued job for execution. Returns false when the job
// left the queued state before the claim landed.
func (s *Store) MarkRunning(ctx context.Context, id int64) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET state = ?, started_at = ?, updated_at = ?, blocked_reason = NULL, next_run_at = NULL
         WHERE id = ? AND state = ?`,
		StateRunning, now, now, id, StateQueued,
	)
	if err != nil {
		return false, fmt.Errorf("mark running: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkCompleted finishes a running job successfully.
func (s *Store) MarkCompleted(ctx context.Context, id int64) error {
	return s.finish(ctx, id, StateCompleted, "")
}

// MarkFailed finishes a running job with an error message.
func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	return s.finish(ctx, id, StateFailed, message)
}

// MarkCanceled records that a running job was stopped on request.
func (s *Store) MarkCanceled(ctx context.Context, id int64) error {
	return s.finish(ctx, id, StateCanceled, CancelRequestedReason)
}

func (s *Store) finish(ctx context.Context, id int64, state State, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET state = ?, error_message = ?, ended_at = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		state, nullableString(message), now, now, id, StateRunning,
	)
	if err != nil {
		return fmt.Errorf("finish job as %s: %w", state, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %d is not running", id)
	}
	return nil
}

// Defer moves a job into the deferred state with a reason and recheck time.
// Valid from queued (guardrail blocked at claim), running is excluded: a
// started job finishes or is canceled, never re-deferred.
func (s *Store) Defer(ctx context.Context, id int64, reason string, nextRunAt time.Time) (bool, error) {
	if reason == "" {
		return false, errors.New("deferred job requires a blocked reason")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET state = ?, blocked_reason = ?, next_run_at = ?, updated_at = ?
         WHERE id = ? AND state IN (?, ?)`,
		StateDeferred, reason, nextRunAt.UTC().Format(time.RFC3339Nano), now,
		id, StateQueued, StateDeferred,
	)
	if err != nil {
		return false, fmt.Errorf("defer job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Promote returns a deferred job to the queue. With force set the job skips
// guardrail evaluation when it is next claimed.
func (s *Store) Promote(ctx context.Context, id int64, force bool) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `UPDATE jobs SET state = ?, blocked_reason = NULL, next_run_at = NULL, updated_at = ?
         WHERE id = ? AND state = ?`
	args := []any{StateQueued, now, id, StateDeferred}
	if force {
		query = `UPDATE jobs SET state = ?, blocked_reason = NULL, next_run_at = NULL, forced = 1, updated_at = ?
         WHERE id = ? AND state = ?`
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("promote job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Cancel removes a queued or deferred job from scheduling. Running jobs are
// stopped cooperatively by the scheduler, not here.
func (s *Store) Cancel(ctx context.Context, id int64) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET state = ?, blocked_reason = NULL, next_run_at = NULL, ended_at = ?, updated_at = ?
         WHERE id = ? AND state IN (?, ?)`,
		StateCanceled, now, now, id, StateQueued, StateDeferred,
	)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Retry moves a failed job back to the queue. Canceled jobs stay canceled;
// they are retained for audit and never leave that state.
func (s *Store) Retry(ctx context.Context, id int64) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET state = ?, error_message = NULL, blocked_reason = NULL,
             next_run_at = NULL, started_at = NULL, ended_at = NULL, updated_at = ?
         WHERE id = ? AND state = ?`,
		StateQueued, now, id, StateFailed,
	)
	if err != nil {
		return false, fmt.Errorf("retry job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ResetRunning returns jobs left running by a previous process back to the
// queue. Called once at daemon startup.
func (s *Store) ResetRunning(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET state = ?, started_at = NULL, updated_at = ? WHERE state = ?`,
		StateQueued, now, StateRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset running jobs: %w", err)
	}
	return res.RowsAffected()
}

// ClearQueued cancels every queued job. Deferred and running jobs are
// untouched.
func (s *Store) ClearQueued(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET state = ?, ended_at = ?, updated_at = ? WHERE state = ?`,
		StateCanceled, now, now, StateQueued,
	)
	if err != nil {
		return 0, fmt.Errorf("clear queued jobs: %w", err)
	}
	return res.RowsAffected()
}

// CancelMany cancels jobs individually, reporting a per-job outcome. A
// failure on one job never stops the rest.
func (s *Store) CancelMany(ctx context.Context, ids []int64) []Outcome {
	return s.bulk(ctx, ids, func(ctx context.Context, id int64) (bool, error) {
		return s.Cancel(ctx, id)
	}, "job is not queued or deferred")
}

// RetryMany retries jobs individually, reporting a per-job outcome.
func (s *Store) RetryMany(ctx context.Context, ids []int64) []Outcome {
	return s.bulk(ctx, ids, func(ctx context.Context, id int64) (bool, error) {
		return s.Retry(ctx, id)
	}, "job is not failed")
}

// ForceRunMany promotes deferred jobs past their guardrails, reporting a
// per-job outcome.
func (s *Store) ForceRunMany(ctx context.Context, ids []int64) []Outcome {
	return s.bulk(ctx, ids, func(ctx context.Context, id int64) (bool, error) {
		return s.Promote(ctx, id, true)
	}, "job is not deferred")
}

func (s *Store) bulk(ctx context.Context, ids []int64, op func(context.Context, int64) (bool, error), notEligible string) []Outcome {
	outcomes := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		ok, err := op(ctx, id)
		outcome := Outcome{ID: id, OK: ok}
		switch {
		case err != nil:
			outcome.Error = err.Error()
		case !ok:
			outcome.Error = notEligible
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// Stats returns a count of jobs grouped by state.
func (s *Store) Stats(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[State]int)
	for rows.Next() {
		var state State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for state, count := range stats {
		health.Total += count
		switch state {
		case StateQueued:
			health.Queued += count
		case StateRunning:
			health.Running += count
		case StateDeferred:
			health.Deferred += count
		case StateCompleted:
			health.Completed += count
		case StateFailed:
			health.Failed += count
		case StateCanceled:
			health.Canceled += count
		}
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the job database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("job database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat job database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("job database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("job database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping job database: %w", err)
	}
	health.DatabaseReadable = true

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'jobs'")
	if err := row.Scan(&tableName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			health.TableExists = false
		} else {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	} else {
		health.TableExists = true
	}

	if health.TableExists {
		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM jobs")
		if err := row.Scan(&health.TotalJobs); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count jobs: %w", err)
		}
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

const jobColumns = "id, rule_id, rule_hash, subject, event_id, trigger_type, actions_json, priority, state, blocked_reason, forced, error_message, created_at, updated_at, next_run_at, started_at, ended_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id            int64
		ruleID        string
		ruleHash      string
		subject       string
		eventID       sql.NullString
		trigger       string
		actionsJSON   string
		priority      int
		stateStr      string
		blockedReason sql.NullString
		forced        sql.NullInt64
		errorMessage  sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
		nextRunRaw    sql.NullString
		startedRaw    sql.NullString
		endedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&ruleID,
		&ruleHash,
		&subject,
		&eventID,
		&trigger,
		&actionsJSON,
		&priority,
		&stateStr,
		&blockedReason,
		&forced,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&nextRunRaw,
		&startedRaw,
		&endedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:            id,
		RuleID:        ruleID,
		RuleHash:      ruleHash,
		Subject:       subject,
		EventID:       eventID.String,
		Trigger:       trigger,
		ActionsJSON:   actionsJSON,
		Priority:      priority,
		State:         State(stateStr),
		BlockedReason: blockedReason.String,
		ErrorMessage:  errorMessage.String,
	}
	if forced.Valid {
		job.Forced = forced.Int64 != 0
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if nextRunRaw.Valid {
		if nextRun, err := parseTimeString(nextRunRaw.String); err == nil {
			job.NextRunAt = &nextRun
		}
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &started
		}
	}
	if endedRaw.Valid {
		if ended, err := parseTimeString(endedRaw.String); err == nil {
			job.EndedAt = &ended
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
