package testsupport

import (
	"path/filepath"
	"testing"

	"slate/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.RulesDir = filepath.Join(base, "rules")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Watch.Dir = filepath.Join(base, "watch")

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithWatch enables the watch-directory event source on the test config.
func WithWatch() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Watch.Enabled = true
		cfg.Watch.PollIntervalSec = 1
	}
}

// WithMaxConcurrency overrides the scheduler slot count on the test config.
func WithMaxConcurrency(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Engine.MaxConcurrency = n
	}
}
