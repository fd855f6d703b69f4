package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Control the backend pull scheduler",
}

var schedulerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the backend pull scheduler",
	Args:  cobra.NoArgs,
	RunE:  runSchedulerStart,
}

var schedulerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the backend pull scheduler",
	Args:  cobra.NoArgs,
	RunE:  runSchedulerStop,
}

var schedulerSetIntervalCmd = &cobra.Command{
	Use:   "set-interval <seconds>",
	Short: "Change the pull interval (5-300 seconds)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedulerSetInterval,
}

var schedulerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the backend scheduler state",
	Args:  cobra.NoArgs,
	RunE:  runSchedulerStatus,
}

func init() {
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerStopCmd)
	schedulerCmd.AddCommand(schedulerSetIntervalCmd)
	schedulerCmd.AddCommand(schedulerStatusCmd)
}

func runSchedulerStart(cmd *cobra.Command, args []string) error {
	client, _, err := resolveControlClient()
	if err != nil {
		return err
	}
	if err := client.SchedulerStart(context.Background()); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Scheduler started.")
	return nil
}

func runSchedulerStop(cmd *cobra.Command, args []string) error {
	client, _, err := resolveControlClient()
	if err != nil {
		return err
	}
	if err := client.SchedulerStop(context.Background()); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Scheduler stopped.")
	return nil
}

func runSchedulerSetInterval(cmd *cobra.Command, args []string) error {
	seconds, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("interval must be a number of seconds: %w", err)
	}

	client, _, err := resolveControlClient()
	if err != nil {
		return err
	}
	if err := client.SchedulerSetInterval(context.Background(), seconds); err != nil {
		return fmt.Errorf("set interval: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pull interval set to %ds.\n", seconds)
	return nil
}

func runSchedulerStatus(cmd *cobra.Command, args []string) error {
	client, _, err := resolveControlClient()
	if err != nil {
		return err
	}

	status, err := client.SchedulerStatus(context.Background())
	if err != nil {
		return fmt.Errorf("scheduler status: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), status)
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintf(w, "Running\t%v\n", status.Running)
	fmt.Fprintf(w, "Interval\t%ds\n", status.IntervalSeconds)
	if status.NextRun != nil {
		fmt.Fprintf(w, "Next run\t%s\n", status.NextRun.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	return nil
}
