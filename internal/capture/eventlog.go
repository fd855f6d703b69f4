// Package capture owns the append-only capture event log and the
// materialized captured set. All other components reach this state only
// through these types, never through the store directly.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dexsync/dexsync/internal/store"
	dexsync "github.com/dexsync/dexsync/internal/sync"
)

// Version is stamped into event metadata; overridden at build time.
var Version = "dev"

// BackupSink receives the retention backup before destructive cleanup.
// Upload failures must not block cleanup.
type BackupSink interface {
	Upload(ctx context.Context, objectName, filePath string) error
}

// EventLog is the append-only log of capture and favorite actions together
// with its acknowledge state.
type EventLog struct {
	store     *store.SQLiteStore
	userID    string
	backupDir string
	sink      BackupSink
}

// NewEventLog creates an event log for the given user. sink may be nil.
func NewEventLog(s *store.SQLiteStore, userID, backupDir string, sink BackupSink) *EventLog {
	return &EventLog{store: s, userID: userID, backupDir: backupDir, sink: sink}
}

// Append records one user action. The returned event is already persisted.
func (l *EventLog) Append(ctx context.Context, pokemonID int, name string, action dexsync.Action, removed bool) (*dexsync.CaptureEvent, error) {
	now := time.Now().UTC()
	ev := &dexsync.CaptureEvent{
		// The ULID suffix embeds the creation timestamp and guarantees
		// uniqueness for rapid repeat actions on the same id.
		CaptureID:   fmt.Sprintf("%d-%s-%s", pokemonID, action, ulid.Make()),
		PokemonID:   pokemonID,
		PokemonName: name,
		Action:      action,
		Timestamp:   now,
		UserID:      l.userID,
		Metadata: map[string]any{
			dexsync.MetaRemoved:       removed,
			dexsync.MetaClientVersion: Version,
		},
	}

	if err := l.store.AppendCapture(ctx, ev); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	slog.Info("capture event appended",
		"component", "capture",
		"action", "event_appended",
		"capture_id", ev.CaptureID,
		"pokemon_id", pokemonID,
		"event_action", string(action),
		"removed", removed,
	)
	return ev, nil
}

// Pending returns all unacknowledged events, optionally only those created
// after since. Pure read.
func (l *EventLog) Pending(ctx context.Context, since *time.Time) ([]dexsync.CaptureEvent, error) {
	return l.store.PendingCaptures(ctx, since)
}

// Acknowledge marks the given events as synced and moves the last-sync
// timestamp forward. Unknown ids are ignored; repeating an acknowledgement
// is safe. Returns the number of events actually transitioned.
func (l *EventLog) Acknowledge(ctx context.Context, ids []string) (int64, error) {
	matched, err := l.store.AcknowledgeCaptures(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("acknowledge: %w", err)
	}

	if err := l.store.SetLastSync(ctx, time.Now().UTC()); err != nil {
		return matched, fmt.Errorf("record last sync: %w", err)
	}

	slog.Info("captures acknowledged",
		"component", "capture",
		"action", "acknowledged",
		"submitted", len(ids),
		"matched", matched,
	)
	return matched, nil
}

// LastSync returns the last acknowledgement time, nil when never synced.
func (l *EventLog) LastSync(ctx context.Context) (*time.Time, error) {
	return l.store.LastSync(ctx)
}

// Stats returns aggregate log counts.
func (l *EventLog) Stats(ctx context.Context) (*store.CaptureStats, error) {
	return l.store.GetCaptureStats(ctx)
}

// Cleanup removes synced events older than retentionDays while keeping at
// least minKeep events in the store. Before deleting anything it writes the
// full log to a timestamped backup file and, when a sink is configured,
// uploads it. A pass that would remove nothing writes no backup, so an idle
// log does not accumulate identical backup files. Unsynced events are never
// removed regardless of age.
func (l *EventLog) Cleanup(ctx context.Context, retentionDays, minKeep int) (int64, error) {
	events, err := l.store.AllCaptures(ctx)
	if err != nil {
		return 0, fmt.Errorf("read log for backup: %w", err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	if removableCount(events, cutoff, minKeep) == 0 {
		return 0, nil
	}

	path, err := l.writeBackup(events)
	if err != nil {
		return 0, fmt.Errorf("write retention backup: %w", err)
	}
	if l.sink != nil {
		if err := l.sink.Upload(ctx, filepath.Base(path), path); err != nil {
			slog.Warn("backup upload failed",
				"component", "capture",
				"action", "backup_upload_failed",
				"path", path,
				"error", err,
			)
		}
	}

	removed, err := l.store.CleanupSynced(ctx, cutoff, minKeep)
	if err != nil {
		return 0, fmt.Errorf("cleanup synced: %w", err)
	}

	if removed > 0 {
		slog.Info("retention cleanup completed",
			"component", "capture",
			"action", "cleanup_complete",
			"removed", removed,
			"retention_days", retentionDays,
			"min_keep", minKeep,
		)
	}
	return removed, nil
}

// removableCount mirrors the store's cleanup criteria: synced events older
// than cutoff, capped by the minKeep safety floor.
func removableCount(events []dexsync.CaptureEvent, cutoff time.Time, minKeep int) int {
	allowed := len(events) - minKeep
	if allowed <= 0 {
		return 0
	}

	eligible := 0
	for _, ev := range events {
		if ev.Synced && ev.Timestamp.Before(cutoff) {
			eligible++
		}
	}
	if eligible > allowed {
		return allowed
	}
	return eligible
}

// writeBackup writes the full event log under a timestamp-suffixed name and
// returns the file path.
func (l *EventLog) writeBackup(events []dexsync.CaptureEvent) (string, error) {
	if err := os.MkdirAll(l.backupDir, 0755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	name := fmt.Sprintf("captures-backup-%s.json", time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(l.backupDir, name)

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal backup: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write backup file: %w", err)
	}
	return path, nil
}
