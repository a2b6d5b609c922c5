package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var executionsCmd = &cobra.Command{
	Use:     "executions",
	Short:   "List execution log records",
	GroupID: "events",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		after, _ := cmd.Flags().GetInt64("after")
		limit, _ := cmd.Flags().GetInt("limit")

		logs, err := brokerClient.ListExecutions(context.Background(), after, limit)
		if err != nil {
			return fmt.Errorf("listing executions: %w", err)
		}
		if jsonOutput {
			return printJSON(os.Stdout, logs)
		}
		printExecutionsTable(os.Stdout, logs)
		return nil
	},
}

func init() {
	executionsCmd.Flags().Int64("after", 0, "only records with an id greater than this")
	executionsCmd.Flags().Int("limit", 50, "maximum number of records")
}
