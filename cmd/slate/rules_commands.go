package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"slate/internal/dispatch"
	"slate/internal/ipc"
	"slate/internal/rulestore"
)

func newRulesCommand(ctx *commandContext) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and reload scheduling rules",
	}
	rulesCmd.AddCommand(newRulesListCommand(ctx))
	rulesCmd.AddCommand(newRulesReloadCommand(ctx))
	rulesCmd.AddCommand(newRulesCheckCommand())
	rulesCmd.AddCommand(newRulesTestCommand(ctx))
	return rulesCmd
}

func newRulesListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed rules in precedence order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RulesList()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Rules) == 0 {
					fmt.Fprintln(stdout, "No rules installed")
				} else {
					rows := make([][]string, 0, len(resp.Rules))
					for _, rule := range resp.Rules {
						rows = append(rows, []string{
							rule.ID,
							rule.Name,
							yesNo(rule.Enabled),
							strconv.Itoa(rule.Priority),
							rule.Trigger,
							formatQuietPeriod(rule.QuietPeriodSec),
							rule.ActiveHours,
							strconv.Itoa(rule.Conditions),
							strconv.Itoa(rule.Actions),
							strconv.Itoa(rule.Guardrails),
						})
					}
					table := renderTable(
						[]string{"ID", "Name", "Enabled", "Priority", "Trigger", "Quiet", "Active hours", "Cond", "Act", "Guard"},
						rows,
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignRight},
					)
					fmt.Fprintln(stdout, table)
				}
				colorize := shouldColorize(stdout)
				for _, problem := range resp.Problems {
					fmt.Fprintln(stdout, renderStatusLine("Problem", statusWarn, problem, colorize))
				}
				return nil
			})
		},
	}
}

func newRulesReloadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read the rules directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RulesReload()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Loaded %d rule(s)\n", resp.Loaded)
				printRuleDiff(stdout, "Added", resp.Added)
				printRuleDiff(stdout, "Changed", resp.Changed)
				printRuleDiff(stdout, "Removed", resp.Removed)
				colorize := shouldColorize(stdout)
				for _, problem := range resp.Problems {
					fmt.Fprintln(stdout, renderStatusLine("Problem", statusWarn, problem, colorize))
				}
				return nil
			})
		},
	}
}

func printRuleDiff(stdout io.Writer, label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(stdout, "%s: %s\n", label, strings.Join(ids, ", "))
}

func newRulesCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <file>...",
		Short: "Validate rule files without installing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			failures := 0
			for _, path := range args {
				rule, problem := rulestore.CheckFile(path)
				if problem != nil {
					failures++
					fmt.Fprintln(stdout, renderStatusLine(path, statusWarn, problem.String(), colorize))
					continue
				}
				summary := fmt.Sprintf("%s (trigger %s, priority %d)", rule.ID, rule.Trigger, rule.Priority)
				fmt.Fprintln(stdout, renderStatusLine(path, statusOK, summary, colorize))
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d file(s) failed validation", failures, len(args))
			}
			return nil
		},
	}
	cmd.Annotations = map[string]string{"skipConfigLoad": "true"}
	return cmd
}

func newRulesTestCommand(ctx *commandContext) *cobra.Command {
	var (
		trigger     string
		subject     string
		payload     []string
		at          string
		recording   bool
		cpuPercent  float64
		freeGB      float64
		runningJobs int
	)

	cmd := &cobra.Command{
		Use:   "test <rule-id>",
		Short: "Dry-run an event against one rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payloadMap, err := parsePayload(payload)
			if err != nil {
				return err
			}
			req := ipc.RuleTestRequest{
				RuleID:  args[0],
				Trigger: trigger,
				Subject: subject,
				Payload: payloadMap,
			}
			if at != "" {
				parsed, err := parseTestTime(at)
				if err != nil {
					return err
				}
				req.At = &parsed
			}
			if cmd.Flags().Changed("recording") || cmd.Flags().Changed("cpu") ||
				cmd.Flags().Changed("free-gb") || cmd.Flags().Changed("running-jobs") {
				req.Snapshot = &ipc.SnapshotOverride{
					RecordingActive: recording,
					CPUPercent:      cpuPercent,
					FreeSpaceGB:     freeGB,
					RunningJobs:     runningJobs,
				}
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RuleTest(req)
				if err != nil {
					return err
				}
				printTrace(cmd, resp.Trace)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", "manual", "Trigger type of the test event")
	cmd.Flags().StringVar(&subject, "subject", "test", "Subject of the test event")
	cmd.Flags().StringSliceVar(&payload, "payload", nil, "Payload entry as key=value (repeatable)")
	cmd.Flags().StringVar(&at, "at", "", "Evaluate as of this time (RFC 3339 or \"2006-01-02 15:04\")")
	cmd.Flags().BoolVar(&recording, "recording", false, "Pretend a recording is in progress")
	cmd.Flags().Float64Var(&cpuPercent, "cpu", 0, "Pretend this CPU utilization percentage")
	cmd.Flags().Float64Var(&freeGB, "free-gb", 0, "Pretend this much free disk space in GiB")
	cmd.Flags().IntVar(&runningJobs, "running-jobs", 0, "Pretend this many running jobs")
	return cmd
}

func printTrace(cmd *cobra.Command, trace dispatch.Trace) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	fmt.Fprintln(stdout, renderStatusLine("Rule", statusInfo, trace.RuleID, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Enabled", boolKind(trace.RuleEnabled), yesNo(trace.RuleEnabled), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Trigger match", boolKind(trace.TriggerMatch), yesNo(trace.TriggerMatch), colorize))
	for _, cond := range trace.Conditions {
		message := yesNo(cond.Matched)
		kind := boolKind(cond.Matched)
		if cond.Error != "" {
			message = cond.Error
			kind = statusWarn
		}
		fmt.Fprintln(stdout, renderStatusLine("  "+cond.Type, kind, message, colorize))
	}
	fmt.Fprintln(stdout, renderStatusLine("Conditions", boolKind(trace.ConditionsMatch), yesNo(trace.ConditionsMatch), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Active hours", boolKind(trace.ActiveHoursMatch), yesNo(trace.ActiveHoursMatch), colorize))
	if trace.QuietPeriodSec > 0 {
		quiet := "idle"
		if trace.QuietPeriodActive {
			quiet = fmt.Sprintf("holding (%ds window)", trace.QuietPeriodSec)
		}
		fmt.Fprintln(stdout, renderStatusLine("Quiet period", statusInfo, quiet, colorize))
	}
	if trace.WouldBlock {
		detail := trace.BlockReason
		if trace.RetryDelaySec > 0 {
			detail = fmt.Sprintf("%s (retry in %ds)", detail, trace.RetryDelaySec)
		}
		fmt.Fprintln(stdout, renderStatusLine("Guardrails", statusWarn, detail, colorize))
	} else {
		fmt.Fprintln(stdout, renderStatusLine("Guardrails", statusOK, "clear", colorize))
	}
	verdict := statusWarn
	if trace.ShouldExecute {
		verdict = statusOK
	}
	fmt.Fprintln(stdout, renderStatusLine("Would execute", verdict, yesNo(trace.ShouldExecute), colorize))
}

func parseTestTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04"} {
		if parsed, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, expected RFC 3339 or \"2006-01-02 15:04\"", value)
}

func formatQuietPeriod(seconds int) string {
	if seconds <= 0 {
		return "-"
	}
	return fmt.Sprintf("%ds", seconds)
}
