package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:     "job",
	Short:   "Acknowledge and inspect tracked module jobs",
	GroupID: "jobs",
}

var jobCompleteCmd = &cobra.Command{
	Use:   "complete <job-id>",
	Short: "Mark a tracked job as completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := brokerClient.CompleteJob(context.Background(), args[0]); err != nil {
			return fmt.Errorf("completing job %s: %w", args[0], err)
		}
		fmt.Printf("Completed %s\n", args[0])
		return nil
	},
}

var jobFailCmd = &cobra.Command{
	Use:   "fail <job-id>",
	Short: "Mark a tracked job as failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		if err := brokerClient.FailJob(context.Background(), args[0], reason); err != nil {
			return fmt.Errorf("failing job %s: %w", args[0], err)
		}
		fmt.Printf("Failed %s\n", args[0])
		return nil
	},
}

var jobOutstandingCmd = &cobra.Command{
	Use:   "outstanding",
	Short: "List jobs still awaiting acknowledgement",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := brokerClient.OutstandingJobs(context.Background())
		if err != nil {
			return fmt.Errorf("listing outstanding jobs: %w", err)
		}
		if jsonOutput {
			return printJSON(os.Stdout, jobs)
		}
		printJobsTable(os.Stdout, jobs, time.Now())
		return nil
	},
}

func init() {
	jobFailCmd.Flags().String("reason", "", "failure reason reported by the worker")

	jobCmd.AddCommand(jobCompleteCmd)
	jobCmd.AddCommand(jobFailCmd)
	jobCmd.AddCommand(jobOutstandingCmd)
}
