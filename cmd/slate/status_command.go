package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"slate/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)

				for _, line := range renderSectionHeader("Engine", colorize) {
					fmt.Fprintln(stdout, line)
				}
				runningKind := statusWarn
				if status.Running {
					runningKind = statusOK
				}
				fmt.Fprintln(stdout, renderStatusLine("Running", runningKind, yesNo(status.Running), colorize))
				fmt.Fprintln(stdout, renderStatusLine("PID", statusInfo, strconv.Itoa(status.PID), colorize))
				if status.Running {
					fmt.Fprintln(stdout, renderStatusLine("Uptime", statusInfo, formatUptime(status.StartedAt), colorize))
				}
				pausedKind := statusOK
				if status.Paused {
					pausedKind = statusWarn
				}
				fmt.Fprintln(stdout, renderStatusLine("Paused", pausedKind, yesNo(status.Paused), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Rules", statusInfo, strconv.Itoa(status.RulesLoaded), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Pending events", statusInfo, strconv.Itoa(status.PendingEvents), colorize))
				if len(status.RunningJobIDs) > 0 {
					fmt.Fprintln(stdout, renderStatusLine("Running jobs", statusInfo, formatIDs(status.RunningJobIDs), colorize))
				}
				for _, problem := range status.RuleProblems {
					fmt.Fprintln(stdout, renderStatusLine("Rule problem", statusWarn, problem, colorize))
				}
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Paths", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Database", statusInfo, status.DBPath, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Socket", statusInfo, status.SocketPath, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Log", statusInfo, status.LogPath, colorize))
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Jobs", colorize) {
					fmt.Fprintln(stdout, line)
				}
				rows := buildStatsRows(status.JobStats)
				if len(rows) == 0 {
					fmt.Fprintln(stdout, "No jobs recorded")
					return nil
				}
				fmt.Fprintln(stdout, renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func buildStatsRows(stats map[string]int) [][]string {
	states := make([]string, 0, len(stats))
	for state, count := range stats {
		if count > 0 {
			states = append(states, state)
		}
	}
	sort.Strings(states)
	rows := make([][]string, 0, len(states))
	for _, state := range states {
		rows = append(rows, []string{state, strconv.Itoa(stats[state])})
	}
	return rows
}

func formatUptime(startedAt time.Time) string {
	if startedAt.IsZero() {
		return "unknown"
	}
	return time.Since(startedAt).Round(time.Second).String()
}

func formatIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ", ")
}
