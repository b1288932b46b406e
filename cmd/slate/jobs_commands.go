package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"slate/internal/ipc"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsForceRunCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var (
		states []string
		sortBy string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in scheduling order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobList(ipc.JobListRequest{
					States: states,
					Sort:   sortBy,
					Limit:  limit,
					Offset: offset,
				})
				if err != nil {
					return err
				}
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
					return nil
				}
				rows := make([][]string, 0, len(resp.Jobs))
				for _, job := range resp.Jobs {
					detail := job.BlockedReason
					if job.ErrorMessage != "" {
						detail = job.ErrorMessage
					}
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						job.RuleID,
						job.Subject,
						job.State,
						strconv.Itoa(job.Priority),
						formatTimestamp(job.CreatedAt),
						detail,
					})
				}
				table := renderTable(
					[]string{"ID", "Rule", "Subject", "State", "Priority", "Created", "Detail"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "Filter by job state (repeatable)")
	cmd.Flags().StringVar(&sortBy, "sort", "", "Sort order: scheduling (default), created, updated")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show at most this many jobs (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many jobs before listing")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobShow(id)
				if err != nil {
					return err
				}
				printJob(cmd, resp.Job)
				return nil
			})
		},
	}
}

func printJob(cmd *cobra.Command, job ipc.JobItem) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	fmt.Fprintln(stdout, renderStatusLine("ID", statusInfo, strconv.FormatInt(job.ID, 10), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Rule", statusInfo, job.RuleID, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Subject", statusInfo, job.Subject, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Trigger", statusInfo, job.Trigger, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Event", statusInfo, job.EventID, colorize))
	fmt.Fprintln(stdout, renderStatusLine("State", stateKind(job.State), job.State, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Priority", statusInfo, strconv.Itoa(job.Priority), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Forced", statusInfo, yesNo(job.Forced), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Created", statusInfo, formatTimestamp(job.CreatedAt), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Updated", statusInfo, formatTimestamp(job.UpdatedAt), colorize))
	if job.BlockedReason != "" {
		fmt.Fprintln(stdout, renderStatusLine("Blocked", statusWarn, job.BlockedReason, colorize))
	}
	if job.NextRunAt != nil {
		fmt.Fprintln(stdout, renderStatusLine("Next check", statusInfo, formatTimestamp(*job.NextRunAt), colorize))
	}
	if job.StartedAt != nil {
		fmt.Fprintln(stdout, renderStatusLine("Started", statusInfo, formatTimestamp(*job.StartedAt), colorize))
	}
	if job.EndedAt != nil {
		fmt.Fprintln(stdout, renderStatusLine("Ended", statusInfo, formatTimestamp(*job.EndedAt), colorize))
	}
	if job.ErrorMessage != "" {
		fmt.Fprintln(stdout, renderStatusLine("Error", statusWarn, job.ErrorMessage, colorize))
	}
	if job.ActionsJSON != "" {
		fmt.Fprintln(stdout, renderStatusLine("Actions", statusInfo, compactJSON(job.ActionsJSON), colorize))
	}
}

func stateKind(state string) statusKind {
	switch state {
	case "completed":
		return statusOK
	case "failed", "deferred":
		return statusWarn
	default:
		return statusInfo
	}
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>...",
		Short: "Cancel jobs; running jobs are interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobCancel(ids)
				if err != nil {
					return err
				}
				printOutcomes(cmd, "canceled", resp.Outcomes)
				return nil
			})
		},
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>...",
		Short: "Requeue failed jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobRetry(ids)
				if err != nil {
					return err
				}
				printOutcomes(cmd, "retried", resp.Outcomes)
				return nil
			})
		},
	}
}

func newJobsForceRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "force-run <id>...",
		Short: "Promote deferred jobs past their guardrails",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobForceRun(ids)
				if err != nil {
					return err
				}
				printOutcomes(cmd, "promoted", resp.Outcomes)
				return nil
			})
		},
	}
}

func printOutcomes(cmd *cobra.Command, verb string, outcomes []ipc.JobOutcome) {
	stdout := cmd.OutOrStdout()
	for _, outcome := range outcomes {
		if outcome.OK {
			fmt.Fprintf(stdout, "Job %d %s\n", outcome.ID, verb)
			continue
		}
		detail := outcome.Error
		if detail == "" {
			detail = "not eligible"
		}
		fmt.Fprintf(stdout, "Job %d skipped: %s\n", outcome.ID, detail)
	}
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		for _, field := range strings.Split(arg, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			id, err := strconv.ParseInt(field, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid job id %q", field)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one job id is required")
	}
	return ids, nil
}

func formatTimestamp(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.Local().Format("2006-01-02 15:04:05")
}

func compactJSON(value string) string {
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err != nil {
		return value
	}
	compact, err := json.Marshal(decoded)
	if err != nil {
		return value
	}
	return string(compact)
}
