package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"slate/internal/ipc"
)

func newEventCommand(ctx *commandContext) *cobra.Command {
	eventCmd := &cobra.Command{
		Use:   "event",
		Short: "Inject events into the engine",
	}
	eventCmd.AddCommand(newEventEmitCommand(ctx))
	return eventCmd
}

func newEventEmitCommand(ctx *commandContext) *cobra.Command {
	var (
		trigger string
		subject string
		payload []string
	)

	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Emit an event and report its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			payloadMap, err := parsePayload(payload)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.EventEmit(ipc.EventEmitRequest{
					Trigger: trigger,
					Subject: subject,
					Payload: payloadMap,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Event %s emitted\n", resp.EventID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", "manual", "Trigger type of the event")
	cmd.Flags().StringVar(&subject, "subject", "", "Subject of the event")
	cmd.Flags().StringSliceVar(&payload, "payload", nil, "Payload entry as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// parsePayload turns key=value pairs into a payload map. Values that look
// like booleans or numbers are carried as such so conditions can compare
// them without casts.
func parsePayload(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	payload := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid payload entry %q, expected key=value", pair)
		}
		payload[key] = coercePayloadValue(strings.TrimSpace(value))
	}
	return payload, nil
}

func coercePayloadValue(value string) any {
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
		return parsed
	}
	if parsed, err := strconv.ParseFloat(value, 64); err == nil {
		return parsed
	}
	return value
}
