package sync

import (
	"time"
)

// Action is the kind of user action recorded in the capture log.
type Action string

const (
	ActionCapture  Action = "capture"
	ActionFavorite Action = "favorite"
)

// Valid reports whether the action is a known action kind.
func (a Action) Valid() bool {
	return a == ActionCapture || a == ActionFavorite
}

// CaptureEvent is a single entry in the append-only capture log.
// Events are immutable once written except for the Synced flag, which is
// flipped exactly once by acknowledgement.
type CaptureEvent struct {
	CaptureID   string         `json:"capture_id"`
	PokemonID   int            `json:"pokemon_id"`
	PokemonName string         `json:"pokemon_name"`
	Action      Action         `json:"action"`
	Timestamp   time.Time      `json:"timestamp"`
	UserID      string         `json:"user_id"`
	Synced      bool           `json:"synced"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ExposurePayload is the derived response body for GET /api/client/sync-data.
// It is computed from the capture log on every pull, never stored.
type ExposurePayload struct {
	UserID       string         `json:"user_id"`
	ClientURL    string         `json:"client_url"`
	Captures     []CaptureEvent `json:"captures"`
	LastSync     *time.Time     `json:"last_sync"`
	TotalPending int            `json:"total_pending"`
}

// AcknowledgeRequest is the body for POST /api/client/acknowledge.
type AcknowledgeRequest struct {
	CaptureIDs []string `json:"capture_ids"`
}

// AcknowledgeResponse reports how many ids were submitted. The count is the
// submitted count, not the matched count; unknown ids are ignored so the
// operation stays idempotent under partial or duplicate acknowledgement.
type AcknowledgeResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// HealthResponse is the body for GET /api/client/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	ClientURL string    `json:"client_url"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// StatsResponse is the body for GET /api/client/stats.
type StatsResponse struct {
	TotalCaptures  int        `json:"total_captures"`
	PendingSync    int        `json:"pending_sync"`
	SyncedCaptures int        `json:"synced_captures"`
	LastSync       *time.Time `json:"last_sync"`
	ClientID       string     `json:"client_id"`
}

// CapturedPokemon is the materialized local view of one owned entry,
// de-duplicated by pokemon id.
type CapturedPokemon struct {
	UserID      string    `json:"user_id"`
	PokemonID   int       `json:"pokemon_id"`
	PokemonName string    `json:"pokemon_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Metadata keys written by the event log.
const (
	MetaRemoved       = "removed"
	MetaClientVersion = "client_version"
)
