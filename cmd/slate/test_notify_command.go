package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"slate/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				kind := statusWarn
				if resp.Sent {
					kind = statusOK
				}
				fmt.Fprintln(stdout, renderStatusLine("Notification", kind, resp.Message, colorize))
				if !resp.Sent {
					return fmt.Errorf("notification was not sent")
				}
				return nil
			})
		},
	}
}
