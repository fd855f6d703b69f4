package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dexsync "github.com/dexsync/dexsync/internal/sync"
)

// Sync metadata keys.
const (
	MetaLastSync = "last_sync"
)

// AppendCapture appends one event to the capture log.
// The event is immutable once written; only acknowledgement may later flip
// its synced flag.
func (s *SQLiteStore) AppendCapture(ctx context.Context, ev *dexsync.CaptureEvent) error {
	if !ev.Action.Valid() {
		return fmt.Errorf("append capture %q: %w", ev.Action, ErrInvalidAction)
	}

	var metadata any
	if len(ev.Metadata) > 0 {
		data, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshal capture metadata: %w", err)
		}
		metadata = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capture_events (capture_id, pokemon_id, pokemon_name, action, user_id, synced, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.CaptureID, ev.PokemonID, ev.PokemonName, string(ev.Action), ev.UserID,
		boolToInt(ev.Synced), metadata, ev.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("append capture %s: %w", ev.CaptureID, ErrDuplicateID)
		}
		return fmt.Errorf("append capture: %w", err)
	}
	return nil
}

// PendingCaptures returns all unsynced events in insertion order, optionally
// filtered to those created strictly after since.
func (s *SQLiteStore) PendingCaptures(ctx context.Context, since *time.Time) ([]dexsync.CaptureEvent, error) {
	query := `
		SELECT capture_id, pokemon_id, pokemon_name, action, user_id, synced, metadata, created_at
		FROM capture_events
		WHERE synced = 0`
	args := []any{}
	if since != nil {
		query += ` AND created_at > ?`
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending captures: %w", err)
	}
	defer rows.Close()

	return scanCaptures(rows)
}

// AcknowledgeCaptures marks the given events as synced. Unknown ids are
// ignored so partial and duplicate acknowledgements are safe to repeat.
// Returns the number of events actually transitioned.
func (s *SQLiteStore) AcknowledgeCaptures(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE capture_events SET synced = 1 WHERE capture_id IN (`+placeholders+`) AND synced = 0`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("acknowledge captures: %w", err)
	}
	return result.RowsAffected()
}

// CaptureStats aggregates counts over the capture log.
type CaptureStats struct {
	Total   int
	Pending int
	Synced  int
}

// GetCaptureStats returns aggregate counts over the capture log.
func (s *SQLiteStore) GetCaptureStats(ctx context.Context) (*CaptureStats, error) {
	var stats CaptureStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN synced = 1 THEN 1 ELSE 0 END), 0)
		FROM capture_events
	`).Scan(&stats.Total, &stats.Pending, &stats.Synced)
	if err != nil {
		return nil, fmt.Errorf("capture stats: %w", err)
	}
	return &stats, nil
}

// AllCaptures returns the entire capture log in insertion order.
// Used to build the retention backup before destructive cleanup.
func (s *SQLiteStore) AllCaptures(ctx context.Context) ([]dexsync.CaptureEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT capture_id, pokemon_id, pokemon_name, action, user_id, synced, metadata, created_at
		FROM capture_events
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	return scanCaptures(rows)
}

// CleanupSynced deletes synced events created before cutoff, keeping the
// total event count at or above minKeep. Unsynced events are never deleted
// regardless of age. Returns the number of deleted events.
func (s *SQLiteStore) CleanupSynced(ctx context.Context, cutoff time.Time, minKeep int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM capture_events`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count captures: %w", err)
	}

	// Safety floor: never shrink a nearly-empty store.
	allowed := total - minKeep
	if allowed <= 0 {
		return 0, nil
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM capture_events
		WHERE capture_id IN (
			SELECT capture_id FROM capture_events
			WHERE synced = 1 AND created_at < ?
			ORDER BY created_at ASC
			LIMIT ?
		)
	`, cutoff.UTC().Format(time.RFC3339Nano), allowed)
	if err != nil {
		return 0, fmt.Errorf("delete synced captures: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cleanup: %w", err)
	}
	return removed, nil
}

// GetSyncMeta retrieves a sync metadata value by key.
func (s *SQLiteStore) GetSyncMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM sync_meta WHERE key = ?
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sync meta key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get sync meta: %w", err)
	}
	return value, nil
}

// SetSyncMeta sets a sync metadata value.
func (s *SQLiteStore) SetSyncMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_meta (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set sync meta: %w", err)
	}
	return nil
}

// LastSync returns the recorded last-sync time, or nil when never synced.
func (s *SQLiteStore) LastSync(ctx context.Context) (*time.Time, error) {
	value, err := s.GetSyncMeta(ctx, MetaLastSync)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("parse last sync %q: %w", value, err)
	}
	return &t, nil
}

// SetLastSync records the last successful acknowledgement time.
func (s *SQLiteStore) SetLastSync(ctx context.Context, t time.Time) error {
	return s.SetSyncMeta(ctx, MetaLastSync, t.UTC().Format(time.RFC3339Nano))
}

func scanCaptures(rows *sql.Rows) ([]dexsync.CaptureEvent, error) {
	events := make([]dexsync.CaptureEvent, 0)
	for rows.Next() {
		var ev dexsync.CaptureEvent
		var action, createdAt string
		var synced int
		var metadata sql.NullString

		if err := rows.Scan(&ev.CaptureID, &ev.PokemonID, &ev.PokemonName, &action,
			&ev.UserID, &synced, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan capture event: %w", err)
		}

		ev.Action = dexsync.Action(action)
		ev.Synced = synced != 0
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &ev.Metadata); err != nil {
				slog.Warn("capture_events: failed to parse metadata", "capture_id", ev.CaptureID, "error", err)
			}
		}
		var parseErr error
		if ev.Timestamp, parseErr = time.Parse(time.RFC3339Nano, createdAt); parseErr != nil {
			slog.Warn("capture_events: failed to parse created_at", "value", createdAt, "error", parseErr)
		}

		events = append(events, ev)
	}
	return events, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
