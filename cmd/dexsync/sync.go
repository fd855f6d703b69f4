package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncSince string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Control backend pull synchronization",
}

var syncAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Force the backend to pull from all registered clients",
	Args:  cobra.NoArgs,
	RunE:  runSyncAll,
}

var syncRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Force the backend to pull recent events only",
	Args:  cobra.NoArgs,
	RunE:  runSyncRecent,
}

var syncBackgroundCmd = &cobra.Command{
	Use:   "background",
	Short: "Start an asynchronous full pull in the backend",
	Args:  cobra.NoArgs,
	RunE:  runSyncBackground,
}

var syncCompleteStateCmd = &cobra.Command{
	Use:   "complete-state",
	Short: "Reconcile the full captured state between clients and backend",
	Args:  cobra.NoArgs,
	RunE:  runSyncCompleteState,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend pull-sync status",
	Args:  cobra.NoArgs,
	RunE:  runSyncStatus,
}

func init() {
	syncAllCmd.Flags().StringVar(&syncSince, "since", "",
		"Only pull events after this RFC 3339 timestamp")

	syncCmd.AddCommand(syncAllCmd)
	syncCmd.AddCommand(syncRecentCmd)
	syncCmd.AddCommand(syncBackgroundCmd)
	syncCmd.AddCommand(syncCompleteStateCmd)
	syncCmd.AddCommand(syncStatusCmd)
}

func runSyncAll(cmd *cobra.Command, args []string) error {
	client, _, err := resolveControlClient()
	if err != nil {
		return err
	}

	var since *time.Time
	if syncSince != "" {
		t, err := time.Parse(time.RFC3339, syncSince)
		if err != nil {
			return fmt.Errorf("invalid --since value %q: %w", syncSince, err)
		}
		since = &t
	}

	if err := client.ForceSyncAll(context.Background(), since); err != nil {
		return fmt.Errorf("sync all: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Full pull started.")
	return nil
}

func runSyncRecent(cmd *cobra.Command, args []string) error {
	client, _, err := resolveControlClient()
	if err != nil {
		return err
	}
	if err := client.ForceSyncRecent(context.Background()); err != nil {
		return fmt.Errorf("sync recent: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Recent pull started.")
	return nil
}

func runSyncBackground(cmd *cobra.Command, args []string) error {
	client, _, err := resolveControlClient()
	if err != nil {
		return err
	}
	if err := client.StartBackgroundSync(context.Background()); err != nil {
		return fmt.Errorf("background sync: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Background pull started.")
	return nil
}

func runSyncCompleteState(cmd *cobra.Command, args []string) error {
	client, _, err := resolveControlClient()
	if err != nil {
		return err
	}

	state, err := client.SyncCompleteState(context.Background())
	if err != nil {
		return fmt.Errorf("complete-state sync: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), state)
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintf(w, "Success\t%v\n", state.Success)
	fmt.Fprintf(w, "Clients consulted\t%d\n", state.ClientsConsulted)
	fmt.Fprintf(w, "Captured in clients\t%d\n", state.TotalCapturedInClients)
	fmt.Fprintf(w, "In database\t%d\n", state.TotalInDatabase)
	fmt.Fprintf(w, "Added\t%d\n", state.AddedToDatabase)
	fmt.Fprintf(w, "Removed\t%d\n", state.RemovedFromDatabase)
	fmt.Fprintf(w, "Processing time\t%.2fs\n", state.ProcessingTime)
	w.Flush()
	return nil
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	client, _, err := resolveControlClient()
	if err != nil {
		return err
	}

	status, err := client.Status(context.Background())
	if err != nil {
		return fmt.Errorf("sync status: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), status)
}
