// Package daemon assembles the scheduling engine and enforces
// single-instance execution.
//
// The daemon owns the long-lived pieces: the job store, the installed rule
// set, the event hub feeding the dispatcher, the scheduler with its worker
// slots, the deferred-job recheck loop, and the optional watch-directory
// event source. IPC handlers call into it for every control operation.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"slate/internal/actions"
	"slate/internal/config"
	"slate/internal/dispatch"
	"slate/internal/events"
	"slate/internal/guardrails"
	"slate/internal/jobs"
	"slate/internal/logging"
	"slate/internal/notifications"
	"slate/internal/recheck"
	"slate/internal/rulestore"
	"slate/internal/scheduler"
	"slate/internal/watch"
)

const scheduleTickInterval = time.Minute

// Daemon coordinates the engine components behind a single-instance lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *jobs.Store
	source   rulestore.Source
	ruleset  *dispatch.RuleSet
	hub      *events.Hub
	disp     *dispatch.Dispatcher
	sched    *scheduler.Scheduler
	rechecks *recheck.Loop
	watcher  *watch.Watcher
	notifier notifications.Service

	lock *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.Mutex
	problems []rulestore.FileProblem
}

// Status is a point-in-time view of the daemon for the control surface.
type Status struct {
	Running       bool
	PID           int
	StartedAt     time.Time
	Paused        bool
	RulesLoaded   int
	RuleProblems  []string
	JobStats      map[jobs.State]int
	RunningJobIDs []int64
	PendingEvents int
	DBPath        string
	LockPath      string
	SocketPath    string
	LogPath       string
}

// New wires the engine from configuration. The daemon is idle until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := jobs.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	location, err := cfg.Location()
	if err != nil {
		store.Close()
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "daemon"),
		store:    store,
		source:   rulestore.NewDirSource(cfg.Paths.RulesDir),
		ruleset:  dispatch.NewRuleSet(),
		hub:      events.NewHub(cfg.Engine.EventBuffer, logger),
		notifier: notifications.NewService(cfg),
		lock:     flock.New(cfg.LockPath()),
	}

	if cfg.Watch.Enabled && cfg.Watch.Dir != "" {
		interval := time.Duration(cfg.Watch.PollIntervalSec) * time.Second
		d.watcher = watch.New(cfg.Watch.Dir, interval, d.hub, logger)
	}

	// Free-space checks follow the directory work lands in: the watch dir
	// when the watcher is active, otherwise the log dir. A configured but
	// disabled watch dir is never created, so it must not be probed.
	probeDir := cfg.Paths.LogDir
	if d.watcher != nil {
		probeDir = cfg.Watch.Dir
	}
	probe := guardrails.NewSystemProbe(probeDir,
		func() int {
			if d.sched == nil {
				return 0
			}
			return d.sched.RunningCount()
		},
		func() bool {
			return d.watcher != nil && d.watcher.Transfers() > 0
		},
	)
	guard := guardrails.NewEvaluator(probe, cfg.ProbeTimeout(), cfg.DefaultRetryDelay(), logger)

	d.sched = scheduler.New(store, actions.NewRunner(d.notifier, logger), d.gate(guard), scheduler.Options{
		MaxConcurrency: cfg.Engine.MaxConcurrency,
		Logger:         logger,
		OnFinish:       d.jobFinished,
	})

	d.disp = dispatch.New(d.ruleset, store, guard, dispatch.Options{
		DefaultRetryDelay: cfg.DefaultRetryDelay(),
		Location:          location,
		OnQueued:          d.jobQueued,
		OnDeferred:        d.jobDeferred,
		Logger:            logger,
	})

	recheckInterval := time.Duration(cfg.Engine.RecheckIntervalSec) * time.Second
	d.rechecks = recheck.New(store, d.gate(guard), recheckInterval, d.sched.NotifyEnqueued, logger)

	return d, nil
}

// gate looks up the job's rule and re-runs its guardrails. A job whose rule
// disappeared keeps its frozen actions and runs unguarded.
func (d *Daemon) gate(guard *guardrails.Evaluator) scheduler.GateFunc {
	return func(ctx context.Context, job *jobs.Job) guardrails.Decision {
		rule := d.ruleset.Get(job.RuleID)
		if rule == nil {
			return guardrails.Decision{Allow: true}
		}
		return guard.Evaluate(ctx, rule.Guardrails)
	}
}

// jobQueued feeds the scheduler's ready heap and pushes the queue-event
// notification.
func (d *Daemon) jobQueued(job *jobs.Job) {
	d.sched.NotifyEnqueued(job)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.notifier.NotifyJobQueued(ctx, job.RuleID, job.Subject); err != nil {
		d.logger.Warn("queued notification failed", logging.Error(err))
	}
}

func (d *Daemon) jobDeferred(job *jobs.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.notifier.NotifyJobDeferred(ctx, job.RuleID, job.Subject, job.BlockedReason); err != nil {
		d.logger.Warn("deferred notification failed", logging.Error(err))
	}
}

func (d *Daemon) jobFinished(job *jobs.Job, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case err == nil:
		if notifyErr := d.notifier.NotifyJobCompleted(ctx, job.RuleID, job.Subject); notifyErr != nil {
			d.logger.Warn("completion notification failed", logging.Error(notifyErr))
		}
	case scheduler.IsCancellation(err):
		// Cancellations are user- or shutdown-driven; no push.
	default:
		if notifyErr := d.notifier.NotifyJobFailed(ctx, job.RuleID, job.Subject, err.Error()); notifyErr != nil {
			d.logger.Warn("failure notification failed", logging.Error(notifyErr))
		}
	}
}

// Start acquires the lock, recovers interrupted jobs, loads rules, and
// launches the engine goroutines.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another slated instance is already running")
	}

	requeued, err := d.store.ResetRunning(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if requeued > 0 {
		d.logger.Info("requeued jobs interrupted by shutdown", logging.Int64("count", requeued))
	}

	if _, err := d.ReloadRules(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("load rules: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.spawn(func() { _ = d.disp.Run(runCtx, d.hub.Events()) })
	d.spawn(func() { _ = d.sched.Run(runCtx) })
	d.spawn(func() { _ = d.rechecks.Run(runCtx) })
	d.spawn(func() { d.tick(runCtx) })
	if d.watcher != nil {
		d.spawn(func() { _ = d.watcher.Run(runCtx) })
	}

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("slated started",
		logging.String("rules_dir", d.cfg.Paths.RulesDir),
		logging.Int("rules", d.ruleset.Len()),
		logging.Bool("watch", d.watcher != nil),
	)
	return nil
}

func (d *Daemon) spawn(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// tick emits schedule_tick events for time-driven rules.
func (d *Daemon) tick(ctx context.Context) {
	ticker := time.NewTicker(scheduleTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.hub.Publish(rulesTickEvent(now))
		}
	}
}

// Stop halts the engine goroutines and releases the lock. Running jobs are
// interrupted; startup recovery requeues them on the next start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("slated stopped")
}

// Close stops the engine and releases held resources.
func (d *Daemon) Close() error {
	d.Stop()
	d.hub.Close()
	return d.store.Close()
}

// Status assembles the control-surface view.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		StartedAt:     d.startedAt,
		Paused:        d.sched.IsPaused(),
		RulesLoaded:   d.ruleset.Len(),
		RunningJobIDs: d.sched.RunningIDs(),
		PendingEvents: d.hub.Depth(),
		DBPath:        filepath.Join(d.cfg.Paths.LogDir, "jobs.db"),
		LockPath:      d.cfg.LockPath(),
		SocketPath:    d.cfg.SocketPath(),
		LogPath:       d.cfg.LogPath(),
	}

	d.mu.Lock()
	for _, problem := range d.problems {
		status.RuleProblems = append(status.RuleProblems, problem.String())
	}
	d.mu.Unlock()

	if stats, err := d.store.Stats(ctx); err == nil {
		status.JobStats = stats
	}
	return status
}

// ReloadSummary reports the rule-set diff from one reload.
type ReloadSummary struct {
	Loaded   int
	Added    []string
	Changed  []string
	Removed  []string
	Problems []rulestore.FileProblem
}

// ReloadRules re-reads the rules directory and installs the result
// atomically. Quiet-period holds for changed or removed rules are dropped.
func (d *Daemon) ReloadRules(ctx context.Context) (ReloadSummary, error) {
	result, err := d.source.Load()
	if err != nil {
		return ReloadSummary{}, err
	}

	added, changed, removed := d.ruleset.Replace(result.Rules)
	for _, id := range changed {
		d.disp.Debouncer().CancelRule(id)
	}
	for _, id := range removed {
		d.disp.Debouncer().CancelRule(id)
	}

	d.mu.Lock()
	d.problems = result.Problems
	d.mu.Unlock()

	summary := ReloadSummary{
		Loaded:   len(result.Rules),
		Added:    added,
		Changed:  changed,
		Removed:  removed,
		Problems: result.Problems,
	}

	d.logger.Info("rules installed",
		logging.Int("loaded", summary.Loaded),
		logging.Int("added", len(added)),
		logging.Int("changed", len(changed)),
		logging.Int("removed", len(removed)),
		logging.Int("rejected", len(result.Problems)),
	)
	for _, problem := range result.Problems {
		d.logger.Warn("rule file rejected", logging.String("problem", problem.String()))
	}

	if d.running.Load() {
		if err := d.notifier.NotifyRulesReloaded(ctx, summary.Loaded, len(result.Problems)); err != nil {
			d.logger.Warn("reload notification failed", logging.Error(err))
		}
	}
	return summary, nil
}

// Rules returns the installed rules ordered by scheduling precedence, plus
// the problems from the last load.
func (d *Daemon) Rules() ([]*RuleInfo, []string) {
	all := d.ruleset.All()
	infos := make([]*RuleInfo, 0, len(all))
	for _, rule := range all {
		infos = append(infos, newRuleInfo(rule))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	problems := make([]string, 0, len(d.problems))
	for _, problem := range d.problems {
		problems = append(problems, problem.String())
	}
	return infos, problems
}

// EmitEvent injects an event into the hub, typically from `slate event emit`.
func (d *Daemon) EmitEvent(event EventInput) (string, error) {
	trigger, ok := event.ParseTrigger()
	if !ok {
		return "", fmt.Errorf("unknown trigger %q", event.Trigger)
	}
	published, id := d.publish(trigger, event)
	if !published {
		return "", errors.New("event hub is saturated; try again")
	}
	return id, nil
}

// TraceRule dry-runs an event against one rule without side effects.
func (d *Daemon) TraceRule(ctx context.Context, ruleID string, event EventInput, snapshot *guardrails.Snapshot) (*dispatch.Trace, error) {
	trigger, ok := event.ParseTrigger()
	if !ok {
		return nil, fmt.Errorf("unknown trigger %q", event.Trigger)
	}
	return d.disp.Trace(ctx, ruleID, event.build(trigger), snapshot)
}

// JobFilter narrows, orders, and pages a job listing.
type JobFilter struct {
	States []string
	Sort   string
	Limit  int
	Offset int
}

// ListJobs returns jobs matching the filter, in scheduling order unless the
// filter asks for another sort.
func (d *Daemon) ListJobs(ctx context.Context, filter JobFilter) ([]*jobs.Job, error) {
	parsed := make([]jobs.State, 0, len(filter.States))
	for _, raw := range filter.States {
		state, ok := jobs.ParseState(raw)
		if !ok {
			return nil, fmt.Errorf("unknown job state %q", raw)
		}
		parsed = append(parsed, state)
	}
	sort, ok := jobs.ParseSortOrder(filter.Sort)
	if !ok {
		return nil, fmt.Errorf("unknown sort order %q", filter.Sort)
	}
	return d.store.ListPage(ctx, jobs.ListQuery{
		States: parsed,
		Sort:   sort,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// GetJob fetches one job; nil when the id is unknown.
func (d *Daemon) GetJob(ctx context.Context, id int64) (*jobs.Job, error) {
	return d.store.GetByID(ctx, id)
}

// CancelJobs cancels each job: running jobs are interrupted, queued and
// deferred jobs are canceled in place.
func (d *Daemon) CancelJobs(ctx context.Context, ids []int64) []jobs.Outcome {
	outcomes := make([]jobs.Outcome, 0, len(ids))
	for _, id := range ids {
		if d.sched.CancelRunning(id) {
			outcomes = append(outcomes, jobs.Outcome{ID: id, OK: true})
			d.notifyCanceled(ctx, id)
			continue
		}
		ok, err := d.store.Cancel(ctx, id)
		outcome := jobs.Outcome{ID: id, OK: ok}
		switch {
		case err != nil:
			outcome.Error = err.Error()
		case !ok:
			outcome.Error = "job is not cancelable"
		default:
			d.notifyCanceled(ctx, id)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (d *Daemon) notifyCanceled(ctx context.Context, id int64) {
	job, err := d.store.GetByID(ctx, id)
	if err != nil || job == nil {
		return
	}
	if err := d.notifier.NotifyJobCanceled(ctx, job.RuleID, job.Subject); err != nil {
		d.logger.Warn("cancel notification failed", logging.Error(err))
	}
}

// RetryJobs requeues failed jobs and wakes the scheduler.
func (d *Daemon) RetryJobs(ctx context.Context, ids []int64) []jobs.Outcome {
	outcomes := d.store.RetryMany(ctx, ids)
	d.notifyRequeued(ctx, outcomes)
	return outcomes
}

// ForceRunJobs promotes deferred jobs with the guardrail bypass flag set.
func (d *Daemon) ForceRunJobs(ctx context.Context, ids []int64) []jobs.Outcome {
	outcomes := d.store.ForceRunMany(ctx, ids)
	d.notifyRequeued(ctx, outcomes)
	return outcomes
}

func (d *Daemon) notifyRequeued(ctx context.Context, outcomes []jobs.Outcome) {
	for _, outcome := range outcomes {
		if !outcome.OK {
			continue
		}
		job, err := d.store.GetByID(ctx, outcome.ID)
		if err != nil || job == nil {
			continue
		}
		d.sched.NotifyEnqueued(job)
	}
}

// PauseQueue holds back new job starts; running jobs continue.
func (d *Daemon) PauseQueue(ctx context.Context) {
	d.sched.Pause()
	if err := d.notifier.NotifyQueuePaused(ctx); err != nil {
		d.logger.Warn("pause notification failed", logging.Error(err))
	}
}

// ResumeQueue reopens worker slots.
func (d *Daemon) ResumeQueue(ctx context.Context) {
	d.sched.Resume()
	if err := d.notifier.NotifyQueueResumed(ctx); err != nil {
		d.logger.Warn("resume notification failed", logging.Error(err))
	}
}

// ClearQueue cancels every queued job.
func (d *Daemon) ClearQueue(ctx context.Context) (int64, error) {
	removed, err := d.store.ClearQueued(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		if err := d.notifier.NotifyQueueCleared(ctx, removed); err != nil {
			d.logger.Warn("clear notification failed", logging.Error(err))
		}
	}
	return removed, nil
}

// QueueStats returns job counts per state.
func (d *Daemon) QueueStats(ctx context.Context) (map[jobs.State]int, error) {
	return d.store.Stats(ctx)
}

// QueueHealth returns aggregate queue diagnostics.
func (d *Daemon) QueueHealth(ctx context.Context) (jobs.HealthSummary, error) {
	return d.store.Health(ctx)
}

// DatabaseHealth returns detailed job-database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (jobs.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// TestNotification sends a test push with the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg.Notifications.NtfyTopic == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the daemon log file location.
func (d *Daemon) LogPath() string {
	return d.cfg.LogPath()
}

// SortedStates renders a stats map as ordered "state=count" strings.
func SortedStates(stats map[jobs.State]int) []string {
	keys := make([]string, 0, len(stats))
	for state := range stats {
		keys = append(keys, string(state))
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, fmt.Sprintf("%s=%d", key, stats[jobs.State(key)]))
	}
	return out
}
