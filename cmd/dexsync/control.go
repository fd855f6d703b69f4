package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dexsync/dexsync/internal/config"
	"github.com/dexsync/dexsync/internal/pullsync"
)

var (
	backendOverride string
	jsonOutput      bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&backendOverride, "backend", "",
		"Backend base URL (overrides config and DEXSYNC_BACKEND_URL)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(clientsCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(diagCmd)
}

// resolveControlClient builds a backend control client from config with the
// optional --backend override.
func resolveControlClient() (*pullsync.Client, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseURL := cfg.Backend.BaseURL
	if backendOverride != "" {
		baseURL = backendOverride
	}
	return pullsync.New(baseURL, cfg.Client.APIKey), cfg, nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
