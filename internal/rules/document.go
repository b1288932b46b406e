package rules

// Document is a declarative rule as authored, before compilation.
type Document struct {
	ID             string          `toml:"id" json:"id"`
	Name           string          `toml:"name" json:"name"`
	Enabled        bool            `toml:"enabled" json:"enabled"`
	Priority       int             `toml:"priority" json:"priority"`
	Trigger        string          `toml:"trigger" json:"trigger"`
	QuietPeriodSec int             `toml:"quiet_period_sec" json:"quiet_period_sec"`
	ActiveHours    *ActiveHoursDoc `toml:"active_hours" json:"active_hours,omitempty"`
	Conditions     []StepDoc       `toml:"conditions" json:"conditions"`
	Actions        []StepDoc       `toml:"actions" json:"actions"`
	Guardrails     []StepDoc       `toml:"guardrails" json:"guardrails"`
}

// StepDoc is one entry in a document's condition, action, or guardrail list:
// a registered type name plus its parameters.
type StepDoc struct {
	Type   string         `toml:"type" json:"type"`
	Params map[string]any `toml:"params" json:"params,omitempty"`
}

// ActiveHoursDoc restricts when a rule may fire to a weekly window.
type ActiveHoursDoc struct {
	Enabled  bool   `toml:"enabled" json:"enabled"`
	Start    string `toml:"start" json:"start"`
	End      string `toml:"end" json:"end"`
	Weekdays []int  `toml:"weekdays" json:"weekdays"`
}

// ValidationError describes one problem found while compiling a document.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}
