package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"slate/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Control the scheduling queue",
	}
	queueCmd.AddCommand(newQueuePauseCommand(ctx))
	queueCmd.AddCommand(newQueueResumeCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))
	return queueCmd
}

func newQueuePauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Hold back new job starts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.QueuePause(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Queue paused")
				return nil
			})
		},
	}
}

func newQueueResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Reopen worker slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.QueueResume(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Queue resumed")
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Cancel every queued job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueClear()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d queued job(s)\n", resp.Removed)
				return nil
			})
		},
	}
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueStats()
				if err != nil {
					return err
				}
				rows := buildStatsRows(resp.Stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs recorded")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check queue and database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)

				health, err := client.QueueHealth()
				if err != nil {
					return err
				}
				for _, line := range renderSectionHeader("Queue", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Total", statusInfo, strconv.Itoa(health.Total), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Queued", statusInfo, strconv.Itoa(health.Queued), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Running", statusInfo, strconv.Itoa(health.Running), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Deferred", deferredKind(health.Deferred), strconv.Itoa(health.Deferred), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Completed", statusOK, strconv.Itoa(health.Completed), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Failed", failureKind(health.Failed), strconv.Itoa(health.Failed), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Canceled", statusInfo, strconv.Itoa(health.Canceled), colorize))
				fmt.Fprintln(stdout)

				db, err := client.DatabaseHealth()
				if err != nil {
					return err
				}
				for _, line := range renderSectionHeader("Database", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Path", statusInfo, db.DBPath, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Exists", boolKind(db.DatabaseExists), yesNo(db.DatabaseExists), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Readable", boolKind(db.DatabaseReadable), yesNo(db.DatabaseReadable), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Jobs table", boolKind(db.TableExists), yesNo(db.TableExists), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Integrity", boolKind(db.IntegrityCheck), yesNo(db.IntegrityCheck), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Total jobs", statusInfo, strconv.Itoa(db.TotalJobs), colorize))
				if db.Error != "" {
					fmt.Fprintln(stdout, renderStatusLine("Error", statusWarn, db.Error, colorize))
				}
				return nil
			})
		},
	}
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusWarn
}

func deferredKind(count int) statusKind {
	if count > 0 {
		return statusWarn
	}
	return statusInfo
}

func failureKind(count int) statusKind {
	if count > 0 {
		return statusWarn
	}
	return statusOK
}
