package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dexsync/dexsync/internal/pullsync"
)

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Manage the backend client registry",
}

var clientsRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this client with the backend",
	Args:  cobra.NoArgs,
	RunE:  runClientsRegister,
}

var clientsUnregisterCmd = &cobra.Command{
	Use:   "unregister <user-id>",
	Short: "Remove a client from the backend registry",
	Args:  cobra.ExactArgs(1),
	RunE:  runClientsUnregister,
}

var clientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered clients",
	Args:  cobra.NoArgs,
	RunE:  runClientsList,
}

var clientsCleanupCmd = &cobra.Command{
	Use:   "cleanup-inactive",
	Short: "Remove inactive clients from the backend registry",
	Args:  cobra.NoArgs,
	RunE:  runClientsCleanup,
}

func init() {
	clientsCmd.AddCommand(clientsRegisterCmd)
	clientsCmd.AddCommand(clientsUnregisterCmd)
	clientsCmd.AddCommand(clientsListCmd)
	clientsCmd.AddCommand(clientsCleanupCmd)
}

func runClientsRegister(cmd *cobra.Command, args []string) error {
	client, cfg, err := resolveControlClient()
	if err != nil {
		return err
	}

	reg := pullsync.Registration{
		ClientURL:    cfg.Client.ClientURL,
		UserID:       cfg.Client.UserID,
		ClientType:   "dexsync",
		Capabilities: []string{"sync-data", "acknowledge", "stats"},
	}
	if err := client.RegisterClient(context.Background(), reg); err != nil {
		return fmt.Errorf("register client: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s at %s.\n", reg.UserID, reg.ClientURL)
	return nil
}

func runClientsUnregister(cmd *cobra.Command, args []string) error {
	client, _, err := resolveControlClient()
	if err != nil {
		return err
	}
	if err := client.UnregisterClient(context.Background(), args[0]); err != nil {
		return fmt.Errorf("unregister client: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Unregistered %s.\n", args[0])
	return nil
}

func runClientsList(cmd *cobra.Command, args []string) error {
	client, _, err := resolveControlClient()
	if err != nil {
		return err
	}

	clients, err := client.RegisteredClients(context.Background())
	if err != nil {
		return fmt.Errorf("list clients: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"clients": clients,
			"total":   len(clients),
		})
	}

	if len(clients) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No clients registered.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "USER\tURL\tTYPE\tACTIVE\tLAST SEEN")
	for _, c := range clients {
		lastSeen := "-"
		if c.LastSeen != nil {
			lastSeen = c.LastSeen.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
			c.UserID, c.ClientURL, c.ClientType, c.Active, lastSeen)
	}
	w.Flush()
	return nil
}

func runClientsCleanup(cmd *cobra.Command, args []string) error {
	client, _, err := resolveControlClient()
	if err != nil {
		return err
	}
	if err := client.CleanupInactive(context.Background()); err != nil {
		return fmt.Errorf("cleanup inactive: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Inactive clients removed.")
	return nil
}
