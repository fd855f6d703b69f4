package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var adminForce bool

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative backend operations",
}

var adminResetCmd = &cobra.Command{
	Use:   "reset-database",
	Short: "Wipe the backend database",
	Args:  cobra.NoArgs,
	RunE:  runAdminReset,
}

var adminStatusCmd = &cobra.Command{
	Use:   "database-status",
	Short: "Show backend database status",
	Args:  cobra.NoArgs,
	RunE:  runAdminStatus,
}

var adminClearTestCmd = &cobra.Command{
	Use:   "clear-test-data",
	Short: "Remove fictitious records from the backend database",
	Args:  cobra.NoArgs,
	RunE:  runAdminClearTest,
}

func init() {
	adminResetCmd.Flags().BoolVar(&adminForce, "force", false,
		"Skip the confirmation prompt")

	adminCmd.AddCommand(adminResetCmd)
	adminCmd.AddCommand(adminStatusCmd)
	adminCmd.AddCommand(adminClearTestCmd)
}

func runAdminReset(cmd *cobra.Command, args []string) error {
	if !adminForce {
		fmt.Fprint(cmd.OutOrStdout(), "This wipes the backend database. Type 'yes' to continue: ")
		reader := bufio.NewReader(cmd.InOrStdin())
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	client, _, err := resolveControlClient()
	if err != nil {
		return err
	}
	if err := client.ResetDatabase(context.Background()); err != nil {
		return fmt.Errorf("reset database: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Backend database reset.")
	return nil
}

func runAdminStatus(cmd *cobra.Command, args []string) error {
	client, _, err := resolveControlClient()
	if err != nil {
		return err
	}

	status, err := client.DatabaseStatus(context.Background())
	if err != nil {
		return fmt.Errorf("database status: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), status)
}

func runAdminClearTest(cmd *cobra.Command, args []string) error {
	client, _, err := resolveControlClient()
	if err != nil {
		return err
	}
	if err := client.ClearTestData(context.Background()); err != nil {
		return fmt.Errorf("clear test data: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Test data cleared.")
	return nil
}
