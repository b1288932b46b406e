package config

const (
	defaultRulesDir             = "~/.config/slate/rules"
	defaultLogDir               = "~/.local/share/slate/logs"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultMaxConcurrency       = 2
	defaultRecheckIntervalSec   = 5
	defaultEventBuffer          = 64
	defaultProbeTimeoutMillis   = 1500
	defaultRetryDelaySec        = 60
	defaultWatchPollIntervalSec = 5
	defaultNotifyTimeoutSec     = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RulesDir: defaultRulesDir,
			LogDir:   defaultLogDir,
		},
		Engine: Engine{
			MaxConcurrency:     defaultMaxConcurrency,
			RecheckIntervalSec: defaultRecheckIntervalSec,
			EventBuffer:        defaultEventBuffer,
			Timezone:           "local",
		},
		Guardrails: Guardrails{
			ProbeTimeoutMillis:   defaultProbeTimeoutMillis,
			DefaultRetryDelaySec: defaultRetryDelaySec,
		},
		Watch: Watch{
			PollIntervalSec: defaultWatchPollIntervalSec,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeoutSec,
			JobFailures:    true,
			JobCompletions: true,
			QueueEvents:    true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
