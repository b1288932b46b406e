package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.RulesDir) == "" {
		problems = append(problems, "paths.rules_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}
	if c.Engine.MaxConcurrency < 1 {
		problems = append(problems, fmt.Sprintf("engine.max_concurrency must be at least 1, got %d", c.Engine.MaxConcurrency))
	}
	if c.Engine.RecheckIntervalSec < 1 {
		problems = append(problems, fmt.Sprintf("engine.recheck_interval_sec must be at least 1, got %d", c.Engine.RecheckIntervalSec))
	}
	if c.Engine.EventBuffer < 1 {
		problems = append(problems, fmt.Sprintf("engine.event_buffer must be at least 1, got %d", c.Engine.EventBuffer))
	}
	if c.Engine.Timezone != "" && !strings.EqualFold(c.Engine.Timezone, "local") {
		if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("engine.timezone %q is not a valid IANA zone", c.Engine.Timezone))
		}
	}
	if c.Guardrails.ProbeTimeoutMillis < 1 {
		problems = append(problems, fmt.Sprintf("guardrails.probe_timeout_ms must be at least 1, got %d", c.Guardrails.ProbeTimeoutMillis))
	}
	if c.Guardrails.DefaultRetryDelaySec < 1 {
		problems = append(problems, fmt.Sprintf("guardrails.default_retry_delay_sec must be at least 1, got %d", c.Guardrails.DefaultRetryDelaySec))
	}
	if c.Watch.Enabled {
		if strings.TrimSpace(c.Watch.Dir) == "" {
			problems = append(problems, "watch.dir must be set when watch.enabled is true")
		}
		if c.Watch.PollIntervalSec < 1 {
			problems = append(problems, fmt.Sprintf("watch.poll_interval_sec must be at least 1, got %d", c.Watch.PollIntervalSec))
		}
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format must be console or json, got %q", c.Logging.Format))
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration:\n  - " + strings.Join(problems, "\n  - "))
	}
	return nil
}
