package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/spf13/cobra"
)

var emitCmd = &cobra.Command{
	Use:     "emit <event-name>",
	Short:   "Emit an application event for dispatch",
	GroupID: "events",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := eventFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		wait, _ := cmd.Flags().GetBool("wait")

		ctx := context.Background()
		if !wait {
			resp, err := brokerClient.Emit(ctx, ev)
			if err != nil {
				return fmt.Errorf("emitting event: %w", err)
			}
			if jsonOutput {
				return printJSON(os.Stdout, resp)
			}
			fmt.Printf("Accepted event %s (correlation %s)\n", resp.EventID, resp.CorrelationID)
			return nil
		}

		res, err := brokerClient.EmitAndWait(ctx, ev)
		if err != nil {
			return fmt.Errorf("dispatching event: %w", err)
		}
		if jsonOutput {
			return printJSON(os.Stdout, res)
		}
		printResult(os.Stdout, res)
		return nil
	},
}

func init() {
	emitCmd.Flags().String("app", "", "application id (required)")
	emitCmd.Flags().String("env", "", "environment (default \"live\")")
	emitCmd.Flags().String("session", "", "session id")
	emitCmd.Flags().String("bucket", "", "bucket id")
	emitCmd.Flags().String("event-id", "", "event id (generated when empty)")
	emitCmd.Flags().String("correlation-id", "", "correlation id (defaults to the event id)")
	emitCmd.Flags().Bool("wait", false, "wait for the dispatch to finish and print its result")
}

// eventFromFlags builds the event described by emit's flags.
func eventFromFlags(cmd *cobra.Command, name string) (model.Event, error) {
	get := func(flag string) string {
		v, _ := cmd.Flags().GetString(flag)
		return v
	}
	ev := model.Event{
		EventID:       get("event-id"),
		CorrelationID: get("correlation-id"),
		ApplicationID: get("app"),
		EventName:     name,
		Environment:   get("env"),
		SessionID:     get("session"),
		BucketID:      get("bucket"),
	}
	if err := ev.Validate(); err != nil {
		return ev, fmt.Errorf("invalid event: %w", err)
	}
	return ev, nil
}
