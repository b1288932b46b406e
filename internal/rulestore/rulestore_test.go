package rulestore_test

import (
	"os"
	"path/filepath"
	"testing"

	"slate/internal/rulestore"
)

const validRule = `
id = "remux-recordings"
name = "Remux finished recordings"
priority = 80
trigger = "file_closed"
quiet_period_sec = 45

[active_hours]
enabled = true
start = "22:00"
end = "06:00"
weekdays = [5, 6, 7]

[[conditions]]
type = "extension_in"
[conditions.params]
values = ["mkv", "mov"]

[[actions]]
type = "remux"
[actions.params]
container = "mp4"

[[guardrails]]
type = "pause_if_recording"
`

func writeRule(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write rule file: %v", err)
	}
}

func TestLoadCompilesRuleFiles(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "remux.toml", validRule)
	writeRule(t, dir, "notes.txt", "not a rule")

	result, err := rulestore.NewDirSource(dir).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(result.Problems) != 0 {
		t.Fatalf("unexpected problems: %v", result.Problems)
	}
	if len(result.Rules) != 1 {
		t.Fatalf("expected one rule, got %d", len(result.Rules))
	}

	rule := result.Rules[0]
	if rule.ID != "remux-recordings" {
		t.Fatalf("unexpected id %q", rule.ID)
	}
	if !rule.Enabled {
		t.Fatal("a rule without an enabled key defaults to enabled")
	}
	if !rule.ActiveHours.Enabled {
		t.Fatal("expected the active-hours window compiled")
	}
	if len(rule.Conditions) != 1 || len(rule.Actions) != 1 || len(rule.Guardrails) != 1 {
		t.Fatalf("unexpected step counts: %+v", rule)
	}
}

func TestLoadReportsBrokenFilesWithoutAborting(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "good.toml", validRule)
	writeRule(t, dir, "broken.toml", "id = [not toml")
	writeRule(t, dir, "invalid.toml", `
id = "bad-rule"
name = "Bad"
priority = 500
trigger = "file_closed"
[[actions]]
type = "remux"
[actions.params]
container = "mp4"
`)

	result, err := rulestore.NewDirSource(dir).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(result.Rules) != 1 || result.Rules[0].ID != "remux-recordings" {
		t.Fatalf("expected the good rule to survive, got %+v", result.Rules)
	}
	if len(result.Problems) != 2 {
		t.Fatalf("expected two problems, got %v", result.Problems)
	}
}

func TestLoadRejectsDuplicateRuleIDs(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "a.toml", validRule)
	writeRule(t, dir, "b.toml", validRule)

	result, err := rulestore.NewDirSource(dir).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(result.Rules) != 1 {
		t.Fatalf("expected one surviving rule, got %d", len(result.Rules))
	}
	if len(result.Problems) != 1 {
		t.Fatalf("expected a duplicate-id problem, got %v", result.Problems)
	}
}

func TestLoadMissingDirectoryFails(t *testing.T) {
	if _, err := rulestore.NewDirSource(filepath.Join(t.TempDir(), "absent")).Load(); err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}

func TestCheckFile(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "remux.toml", validRule)

	rule, problem := rulestore.CheckFile(filepath.Join(dir, "remux.toml"))
	if problem != nil {
		t.Fatalf("unexpected problem: %v", problem)
	}
	if rule.Hash == "" {
		t.Fatal("expected a compiled hash")
	}
}
