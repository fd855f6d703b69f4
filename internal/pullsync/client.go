// Package pullsync is the control client for the backend pull orchestrator.
// Every method is a thin named request to one fixed endpoint; the pulling
// itself happens in the backend. Idempotent reads retry with backoff, mutating
// calls retry at most once and only on transient failures.
package pullsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dexsync/dexsync/internal/httperr"
)

const (
	// MinIntervalSeconds and MaxIntervalSeconds bound the scheduler interval
	// the backend accepts.
	MinIntervalSeconds = 5
	MaxIntervalSeconds = 300

	defaultTimeout = 30 * time.Second
	retryBaseDelay = 200 * time.Millisecond
	maxReadRetries = 2
)

// ErrInvalidInterval is returned for scheduler intervals outside 5-300s.
var ErrInvalidInterval = fmt.Errorf("scheduler interval must be between %d and %d seconds", MinIntervalSeconds, MaxIntervalSeconds)

// SyncCompleteState is the backend's report of a full state reconciliation.
type SyncCompleteState struct {
	Success                bool    `json:"success"`
	ClientsConsulted       int     `json:"clients_consulted"`
	TotalCapturedInClients int     `json:"total_captured_in_clients"`
	TotalInDatabase        int     `json:"total_in_database"`
	AddedToDatabase        int     `json:"added_to_database"`
	RemovedFromDatabase    int     `json:"removed_from_database"`
	ProcessingTime         float64 `json:"processing_time"`
}

// Registration describes this client to the backend registry. A client must
// be registered before the backend will pull from it.
type Registration struct {
	ClientURL    string   `json:"client_url"`
	UserID       string   `json:"user_id"`
	ClientType   string   `json:"client_type"`
	Capabilities []string `json:"capabilities"`
}

// RegisteredClient is one registry entry as reported by the backend.
type RegisteredClient struct {
	ClientURL  string     `json:"client_url"`
	UserID     string     `json:"user_id"`
	ClientType string     `json:"client_type"`
	Active     bool       `json:"active"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

// SchedulerStatus is the backend scheduler's state.
type SchedulerStatus struct {
	Running         bool       `json:"running"`
	IntervalSeconds int        `json:"interval_seconds"`
	NextRun         *time.Time `json:"next_run,omitempty"`
}

// Client talks to the backend control surface.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a control client for the backend at baseURL. apiKey may be
// empty when the backend runs open.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// ForceSyncAll asks the backend to pull from every registered client,
// optionally restricted to events after since.
func (c *Client) ForceSyncAll(ctx context.Context, since *time.Time) error {
	body := map[string]any{}
	if since != nil {
		body["since"] = since.UTC().Format(time.RFC3339)
	}
	return c.mutate(ctx, http.MethodPost, "/api/v1/pull-sync/sync-all", body, nil)
}

// ForceSyncRecent asks the backend to pull only recent events.
func (c *Client) ForceSyncRecent(ctx context.Context) error {
	return c.mutate(ctx, http.MethodPost, "/api/v1/pull-sync/sync-recent", nil, nil)
}

// StartBackgroundSync kicks off an asynchronous full pull in the backend.
func (c *Client) StartBackgroundSync(ctx context.Context) error {
	return c.mutate(ctx, http.MethodPost, "/api/v1/pull-sync/sync-all-background", nil, nil)
}

// SyncCompleteState runs a full state reconciliation and returns its report.
func (c *Client) SyncCompleteState(ctx context.Context) (*SyncCompleteState, error) {
	var out SyncCompleteState
	if err := c.mutate(ctx, http.MethodPost, "/api/v1/pull-sync/sync-complete-state", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterClient adds this client to the backend registry.
func (c *Client) RegisterClient(ctx context.Context, reg Registration) error {
	return c.mutate(ctx, http.MethodPost, "/api/v1/pull-sync/register-client", reg, nil)
}

// UnregisterClient removes a client from the backend registry.
func (c *Client) UnregisterClient(ctx context.Context, userID string) error {
	return c.mutate(ctx, http.MethodDelete, "/api/v1/pull-sync/unregister-client/"+userID, nil, nil)
}

// RegisteredClients lists the backend registry.
func (c *Client) RegisteredClients(ctx context.Context) ([]RegisteredClient, error) {
	var out struct {
		Clients []RegisteredClient `json:"clients"`
	}
	if err := c.getJSON(ctx, "/api/v1/pull-sync/registered-clients", &out); err != nil {
		return nil, err
	}
	return out.Clients, nil
}

// Status returns the backend pull-sync status document as-is.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.getJSON(ctx, "/api/v1/pull-sync/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SchedulerStatus returns the backend scheduler's state.
func (c *Client) SchedulerStatus(ctx context.Context) (*SchedulerStatus, error) {
	var out SchedulerStatus
	if err := c.getJSON(ctx, "/api/v1/pull-sync/scheduler/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SchedulerStart starts the backend pull scheduler.
func (c *Client) SchedulerStart(ctx context.Context) error {
	return c.mutate(ctx, http.MethodPost, "/api/v1/pull-sync/scheduler/start", nil, nil)
}

// SchedulerStop stops the backend pull scheduler.
func (c *Client) SchedulerStop(ctx context.Context) error {
	return c.mutate(ctx, http.MethodPost, "/api/v1/pull-sync/scheduler/stop", nil, nil)
}

// SchedulerSetInterval changes the pull interval. Values outside the
// documented 5-300s bounds are rejected locally without a request.
func (c *Client) SchedulerSetInterval(ctx context.Context, seconds int) error {
	if seconds < MinIntervalSeconds || seconds > MaxIntervalSeconds {
		return ErrInvalidInterval
	}
	return c.mutate(ctx, http.MethodPost, "/api/v1/pull-sync/scheduler/set-interval",
		map[string]int{"interval": seconds}, nil)
}

// CleanupInactive removes inactive clients from the backend registry.
func (c *Client) CleanupInactive(ctx context.Context) error {
	return c.mutate(ctx, http.MethodPost, "/api/v1/pull-sync/cleanup-inactive", nil, nil)
}

// ResetDatabase wipes the backend database. Destructive; never retried.
func (c *Client) ResetDatabase(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/admin/reset-database", nil, nil)
}

// DatabaseStatus returns the backend database status document as-is.
func (c *Client) DatabaseStatus(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.getJSON(ctx, "/api/v1/admin/database-status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClearTestData removes fictitious records from the backend database.
func (c *Client) ClearTestData(ctx context.Context) error {
	return c.mutate(ctx, http.MethodPost, "/api/v1/admin/clear-fictitious-data", nil, nil)
}

// getJSON performs an idempotent read with bounded backoff, three attempts
// total, retrying only transient kinds.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	backoff := retry.WithMaxRetries(maxReadRetries, retry.NewFibonacci(retryBaseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err != nil && httperr.KindOf(err).Transient() {
			return retry.RetryableError(err)
		}
		return err
	})
}

// mutate performs a state-changing request, retried exactly once and only
// when the first failure is transient. 4xx responses are never retried.
func (c *Client) mutate(ctx context.Context, method, path string, body, out any) error {
	err := c.do(ctx, method, path, body, out)
	if err == nil || !httperr.KindOf(err).Transient() {
		return err
	}

	slog.Warn("control call retrying after transient failure",
		"component", "pullsync",
		"action", "retry",
		"path", path,
		"error", err,
	)
	return c.do(ctx, method, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := "pullsync." + path

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return httperr.New(op, httperr.Classify(err, 0), 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httperr.New(op, httperr.Classify(nil, resp.StatusCode), resp.StatusCode, nil)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return httperr.New(op, httperr.KindValidation, resp.StatusCode,
				fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}
