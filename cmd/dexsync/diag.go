package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Fetch diagnostics from the running daemon",
	Args:  cobra.NoArgs,
	RunE:  runDiag,
}

func runDiag(cmd *cobra.Command, args []string) error {
	_, cfg, err := resolveControlClient()
	if err != nil {
		return err
	}

	url := cfg.Client.ClientURL + "/api/client/diag"
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if cfg.Client.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Client.APIKey)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running at %s? %w", cfg.Client.ClientURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	var diag map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&diag); err != nil {
		return fmt.Errorf("decode diagnostics: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), diag)
}
