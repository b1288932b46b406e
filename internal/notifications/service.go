// Package notifications pushes job and queue lifecycle updates over ntfy.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"slate/internal/config"
)

const userAgent = "Slate-Go/0.1.0"

// Service defines the notification surface exposed to engine components.
type Service interface {
	NotifyJobQueued(ctx context.Context, ruleID, subject string) error
	NotifyJobDeferred(ctx context.Context, ruleID, subject, reason string) error
	NotifyJobCompleted(ctx context.Context, ruleID, subject string) error
	NotifyJobFailed(ctx context.Context, ruleID, subject, message string) error
	NotifyJobCanceled(ctx context.Context, ruleID, subject string) error
	NotifyRuleMessage(ctx context.Context, ruleID, message string) error
	NotifyRulesReloaded(ctx context.Context, loaded, rejected int) error
	NotifyQueuePaused(ctx context.Context) error
	NotifyQueueResumed(ctx context.Context) error
	NotifyQueueCleared(ctx context.Context, removed int64) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:       topic,
		client:         &http.Client{Timeout: timeout},
		jobFailures:    cfg.Notifications.JobFailures,
		jobCompletions: cfg.Notifications.JobCompletions,
		queueEvents:    cfg.Notifications.QueueEvents,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint       string
	client         *http.Client
	jobFailures    bool
	jobCompletions bool
	queueEvents    bool
}

func (n *ntfyService) NotifyJobQueued(ctx context.Context, ruleID, subject string) error {
	if !n.queueEvents {
		return nil
	}
	data := payload{
		title:   "Slate - Job Queued",
		message: fmt.Sprintf("Queued %s for %s", ruleID, subject),
		tags:    []string{"slate", "job", "queued"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobDeferred(ctx context.Context, ruleID, subject, reason string) error {
	if !n.queueEvents {
		return nil
	}
	data := payload{
		title:   "Slate - Job Deferred",
		message: fmt.Sprintf("Deferred %s for %s (%s)", ruleID, subject, reason),
		tags:    []string{"slate", "job", "deferred"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, ruleID, subject string) error {
	if !n.jobCompletions {
		return nil
	}
	data := payload{
		title:   "Slate - Job Complete",
		message: fmt.Sprintf("Completed %s for %s", ruleID, subject),
		tags:    []string{"slate", "job", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, ruleID, subject, message string) error {
	if !n.jobFailures {
		return nil
	}
	data := payload{
		title:    "Slate - Job Failed",
		message:  fmt.Sprintf("Failed %s for %s: %s", ruleID, subject, strings.TrimSpace(message)),
		tags:     []string{"slate", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobCanceled(ctx context.Context, ruleID, subject string) error {
	if !n.queueEvents {
		return nil
	}
	data := payload{
		title:   "Slate - Job Canceled",
		message: fmt.Sprintf("Canceled %s for %s", ruleID, subject),
		tags:    []string{"slate", "job", "canceled"},
	}
	return n.send(ctx, data)
}

// NotifyRuleMessage delivers a rule-authored notify action. It ignores the
// category toggles: the rule asked for it explicitly.
func (n *ntfyService) NotifyRuleMessage(ctx context.Context, ruleID, message string) error {
	data := payload{
		title:   fmt.Sprintf("Slate - %s", ruleID),
		message: message,
		tags:    []string{"slate", "rule", ruleID},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRulesReloaded(ctx context.Context, loaded, rejected int) error {
	if !n.queueEvents {
		return nil
	}
	message := fmt.Sprintf("Rules reloaded: %d active", loaded)
	if rejected > 0 {
		message = fmt.Sprintf("%s, %d rejected", message, rejected)
	}
	data := payload{
		title:   "Slate - Rules Reloaded",
		message: message,
		tags:    []string{"slate", "rules", "reloaded"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueuePaused(ctx context.Context) error {
	if !n.queueEvents {
		return nil
	}
	data := payload{
		title:   "Slate - Queue Paused",
		message: "Scheduling paused; running jobs continue",
		tags:    []string{"slate", "queue", "paused"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueueResumed(ctx context.Context) error {
	if !n.queueEvents {
		return nil
	}
	data := payload{
		title:   "Slate - Queue Resumed",
		message: "Scheduling resumed",
		tags:    []string{"slate", "queue", "resumed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueueCleared(ctx context.Context, removed int64) error {
	if !n.queueEvents {
		return nil
	}
	data := payload{
		title:   "Slate - Queue Cleared",
		message: fmt.Sprintf("Canceled %d queued job(s)", removed),
		tags:    []string{"slate", "queue", "cleared"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Slate - Error",
		message:  builder.String(),
		tags:     []string{"slate", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Slate - Test",
		message:  "Notification system test",
		tags:     []string{"slate", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobQueued(context.Context, string, string) error           { return nil }
func (noopService) NotifyJobDeferred(context.Context, string, string, string) error { return nil }
func (noopService) NotifyJobCompleted(context.Context, string, string) error        { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, string) error   { return nil }
func (noopService) NotifyJobCanceled(context.Context, string, string) error         { return nil }
func (noopService) NotifyRuleMessage(context.Context, string, string) error         { return nil }
func (noopService) NotifyRulesReloaded(context.Context, int, int) error             { return nil }
func (noopService) NotifyQueuePaused(context.Context) error                        { return nil }
func (noopService) NotifyQueueResumed(context.Context) error                       { return nil }
func (noopService) NotifyQueueCleared(context.Context, int64) error                { return nil }
func (noopService) NotifyError(context.Context, error, string) error               { return nil }
func (noopService) TestNotification(context.Context) error                         { return nil }
