package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"slate/internal/daemon"
	"slate/internal/guardrails"
	"slate/internal/logging"
	"slate/internal/logs"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.WithComponent(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName("Slate", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logging.WithComponent(logger, "ipc"),
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart slated if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun slate daemon stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.logger.Debug("engine start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "engine started"
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Debug("engine stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.StartedAt = status.StartedAt
	resp.Paused = status.Paused
	resp.RulesLoaded = status.RulesLoaded
	resp.RuleProblems = status.RuleProblems
	resp.RunningJobIDs = status.RunningJobIDs
	resp.PendingEvents = status.PendingEvents
	resp.DBPath = status.DBPath
	resp.LockPath = status.LockPath
	resp.SocketPath = status.SocketPath
	resp.LogPath = status.LogPath
	resp.JobStats = make(map[string]int, len(status.JobStats))
	for state, count := range status.JobStats {
		resp.JobStats[string(state)] = count
	}
	return nil
}

func (s *service) JobList(req JobListRequest, resp *JobListResponse) error {
	list, err := s.daemon.ListJobs(s.ctx, daemon.JobFilter{
		States: req.States,
		Sort:   req.Sort,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return err
	}
	resp.Jobs = make([]JobItem, 0, len(list))
	for _, job := range list {
		resp.Jobs = append(resp.Jobs, fromJob(job))
	}
	return nil
}

func (s *service) JobShow(req JobShowRequest, resp *JobShowResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid job id %d", req.ID)
	}
	job, err := s.daemon.GetJob(s.ctx, req.ID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %d not found", req.ID)
	}
	resp.Job = fromJob(job)
	return nil
}

func (s *service) JobCancel(req JobCancelRequest, resp *JobCancelResponse) error {
	if len(req.IDs) == 0 {
		return errors.New("job cancel requires at least one id")
	}
	resp.Outcomes = fromOutcomes(s.daemon.CancelJobs(s.ctx, req.IDs))
	return nil
}

func (s *service) JobRetry(req JobRetryRequest, resp *JobRetryResponse) error {
	if len(req.IDs) == 0 {
		return errors.New("job retry requires at least one id")
	}
	resp.Outcomes = fromOutcomes(s.daemon.RetryJobs(s.ctx, req.IDs))
	return nil
}

func (s *service) JobForceRun(req JobForceRunRequest, resp *JobForceRunResponse) error {
	if len(req.IDs) == 0 {
		return errors.New("job force-run requires at least one id")
	}
	resp.Outcomes = fromOutcomes(s.daemon.ForceRunJobs(s.ctx, req.IDs))
	return nil
}

func (s *service) QueuePause(_ QueuePauseRequest, resp *QueuePauseResponse) error {
	s.daemon.PauseQueue(s.ctx)
	resp.Paused = true
	return nil
}

func (s *service) QueueResume(_ QueueResumeRequest, resp *QueueResumeResponse) error {
	s.daemon.ResumeQueue(s.ctx)
	resp.Resumed = true
	return nil
}

func (s *service) QueueClear(_ QueueClearRequest, resp *QueueClearResponse) error {
	removed, err := s.daemon.ClearQueue(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.logger.Info("queue cleared", logging.Int64("removed_count", removed))
	return nil
}

func (s *service) QueueStats(_ QueueStatsRequest, resp *QueueStatsResponse) error {
	stats, err := s.daemon.QueueStats(s.ctx)
	if err != nil {
		return err
	}
	resp.Stats = make(map[string]int, len(stats))
	for state, count := range stats {
		resp.Stats[string(state)] = count
	}
	return nil
}

func (s *service) QueueHealth(_ QueueHealthRequest, resp *QueueHealthResponse) error {
	health, err := s.daemon.QueueHealth(s.ctx)
	if err != nil {
		return err
	}
	resp.Total = health.Total
	resp.Queued = health.Queued
	resp.Running = health.Running
	resp.Deferred = health.Deferred
	resp.Completed = health.Completed
	resp.Failed = health.Failed
	resp.Canceled = health.Canceled
	return nil
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.DatabaseHealth(s.ctx)
	resp.DBPath = health.DBPath
	resp.DatabaseExists = health.DatabaseExists
	resp.DatabaseReadable = health.DatabaseReadable
	resp.TableExists = health.TableExists
	resp.IntegrityCheck = health.IntegrityCheck
	resp.TotalJobs = health.TotalJobs
	resp.Error = health.Error
	return err
}

func (s *service) RulesList(_ RulesListRequest, resp *RulesListResponse) error {
	infos, problems := s.daemon.Rules()
	resp.Problems = problems
	resp.Rules = make([]RuleSummary, 0, len(infos))
	for _, info := range infos {
		resp.Rules = append(resp.Rules, RuleSummary{
			ID:             info.ID,
			Name:           info.Name,
			Enabled:        info.Enabled,
			Priority:       info.Priority,
			Trigger:        info.Trigger,
			QuietPeriodSec: info.QuietPeriodSec,
			ActiveHours:    info.ActiveHours,
			Conditions:     info.Conditions,
			Actions:        info.Actions,
			Guardrails:     info.Guardrails,
			Hash:           info.Hash,
			CompiledAt:     info.CompiledAt,
		})
	}
	return nil
}

func (s *service) RulesReload(_ RulesReloadRequest, resp *RulesReloadResponse) error {
	summary, err := s.daemon.ReloadRules(s.ctx)
	if err != nil {
		return err
	}
	resp.Loaded = summary.Loaded
	resp.Added = summary.Added
	resp.Changed = summary.Changed
	resp.Removed = summary.Removed
	for _, problem := range summary.Problems {
		resp.Problems = append(resp.Problems, problem.String())
	}
	s.logger.Info("rules reloaded via IPC",
		logging.Int("loaded", resp.Loaded),
		logging.Int("rejected", len(resp.Problems)))
	return nil
}

func (s *service) RuleTest(req RuleTestRequest, resp *RuleTestResponse) error {
	var snapshot *guardrails.Snapshot
	if req.Snapshot != nil {
		snapshot = &guardrails.Snapshot{
			RecordingActive: req.Snapshot.RecordingActive,
			CPUPercent:      req.Snapshot.CPUPercent,
			FreeSpaceGB:     req.Snapshot.FreeSpaceGB,
			RunningJobs:     req.Snapshot.RunningJobs,
		}
	}
	input := daemon.EventInput{Trigger: req.Trigger, Subject: req.Subject, Payload: req.Payload}
	if req.At != nil {
		input.At = *req.At
	}
	trace, err := s.daemon.TraceRule(s.ctx, req.RuleID, input, snapshot)
	if err != nil {
		return err
	}
	resp.Trace = *trace
	return nil
}

func (s *service) EventEmit(req EventEmitRequest, resp *EventEmitResponse) error {
	id, err := s.daemon.EmitEvent(daemon.EventInput{
		Trigger: req.Trigger,
		Subject: req.Subject,
		Payload: req.Payload,
	})
	if err != nil {
		return err
	}
	resp.EventID = id
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
