package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	dexsync "github.com/dexsync/dexsync/internal/sync"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newEvent(pokemonID int, action dexsync.Action, at time.Time) *dexsync.CaptureEvent {
	return &dexsync.CaptureEvent{
		CaptureID:   ulid.Make().String(),
		PokemonID:   pokemonID,
		PokemonName: "pikachu",
		Action:      action,
		Timestamp:   at,
		UserID:      "ash",
		Metadata:    map[string]any{dexsync.MetaRemoved: false},
	}
}

func TestAppendCapture_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := newEvent(25, dexsync.ActionCapture, time.Now().UTC())
	if err := s.AppendCapture(ctx, ev); err != nil {
		t.Fatalf("AppendCapture: %v", err)
	}

	pending, err := s.PendingCaptures(ctx, nil)
	if err != nil {
		t.Fatalf("PendingCaptures: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d events, want 1", len(pending))
	}

	got := pending[0]
	if got.CaptureID != ev.CaptureID || got.PokemonID != 25 || got.Action != dexsync.ActionCapture {
		t.Errorf("round-tripped event = %+v", got)
	}
	if got.Synced {
		t.Error("fresh event must not be synced")
	}
	if removed, ok := got.Metadata[dexsync.MetaRemoved]; !ok || removed != false {
		t.Errorf("metadata removed = %v", got.Metadata)
	}
}

func TestAppendCapture_RejectsInvalidAction(t *testing.T) {
	s := newTestStore(t)

	ev := newEvent(25, dexsync.Action("steal"), time.Now())
	if err := s.AppendCapture(context.Background(), ev); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("AppendCapture(invalid action) = %v, want ErrInvalidAction", err)
	}
}

func TestAppendCapture_RejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := newEvent(25, dexsync.ActionCapture, time.Now())
	if err := s.AppendCapture(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendCapture(ctx, ev); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate append = %v, want ErrDuplicateID", err)
	}
}

func TestPendingCaptures_SinceFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := s.AppendCapture(ctx, newEvent(i+1, dexsync.ActionCapture, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	since := base.Add(30 * time.Second)
	pending, err := s.PendingCaptures(ctx, &since)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Errorf("pending since %v = %d events, want 2", since, len(pending))
	}
}

func TestAcknowledgeCaptures_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Capture, release, capture again: three distinct log entries.
	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		ev := newEvent(25, dexsync.ActionCapture, now.Add(time.Duration(i)*time.Second))
		if err := s.AppendCapture(ctx, ev); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, ev.CaptureID)
	}

	matched, err := s.AcknowledgeCaptures(ctx, []string{ids[0], ids[1], "no-such-id"})
	if err != nil {
		t.Fatalf("AcknowledgeCaptures: %v", err)
	}
	if matched != 2 {
		t.Errorf("matched = %d, want 2", matched)
	}

	pending, err := s.PendingCaptures(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].CaptureID != ids[2] {
		t.Fatalf("pending after ack = %+v, want only third event", pending)
	}

	// Acknowledging the same ids again changes nothing.
	matched, err = s.AcknowledgeCaptures(ctx, []string{ids[0], ids[1]})
	if err != nil {
		t.Fatal(err)
	}
	if matched != 0 {
		t.Errorf("second ack matched = %d, want 0", matched)
	}

	pending, err = s.PendingCaptures(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("pending after duplicate ack = %d, want 1", len(pending))
	}
}

func TestPendingCaptures_NeverReturnsSynced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := newEvent(1, dexsync.ActionFavorite, time.Now().UTC())
	if err := s.AppendCapture(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AcknowledgeCaptures(ctx, []string{ev.CaptureID}); err != nil {
		t.Fatal(err)
	}

	pending, err := s.PendingCaptures(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range pending {
		if p.Synced {
			t.Errorf("pending returned synced event %s", p.CaptureID)
		}
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestGetCaptureStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var first string
	for i := 0; i < 3; i++ {
		ev := newEvent(i+1, dexsync.ActionCapture, time.Now().UTC())
		if i == 0 {
			first = ev.CaptureID
		}
		if err := s.AppendCapture(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.AcknowledgeCaptures(ctx, []string{first}); err != nil {
		t.Fatal(err)
	}

	stats, err := s.GetCaptureStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Pending != 2 || stats.Synced != 1 {
		t.Errorf("stats = %+v, want total=3 pending=2 synced=1", stats)
	}
}

func TestCleanupSynced_NeverDeletesUnsynced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-90 * 24 * time.Hour)

	// One ancient unsynced event and one ancient synced event.
	unsynced := newEvent(1, dexsync.ActionCapture, old)
	synced := newEvent(2, dexsync.ActionCapture, old)
	for _, ev := range []*dexsync.CaptureEvent{unsynced, synced} {
		if err := s.AppendCapture(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.AcknowledgeCaptures(ctx, []string{synced.CaptureID}); err != nil {
		t.Fatal(err)
	}

	removed, err := s.CleanupSynced(ctx, time.Now().UTC().Add(-30*24*time.Hour), 0)
	if err != nil {
		t.Fatalf("CleanupSynced: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	remaining, err := s.AllCaptures(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].CaptureID != unsynced.CaptureID {
		t.Errorf("remaining = %+v, want only the unsynced event", remaining)
	}
}

func TestCleanupSynced_SafetyFloor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-90 * 24 * time.Hour)

	ev := newEvent(1, dexsync.ActionCapture, old)
	if err := s.AppendCapture(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AcknowledgeCaptures(ctx, []string{ev.CaptureID}); err != nil {
		t.Fatal(err)
	}

	// minKeep above the total blocks all deletion.
	removed, err := s.CleanupSynced(ctx, time.Now().UTC(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0 under safety floor", removed)
	}
}

func TestLastSync_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	last, err := s.LastSync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last != nil {
		t.Errorf("fresh store last sync = %v, want nil", last)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.SetLastSync(ctx, now); err != nil {
		t.Fatal(err)
	}

	last, err = s.LastSync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || !last.Equal(now) {
		t.Errorf("last sync = %v, want %v", last, now)
	}
}

func TestCapturedSet_CRUDAndReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.UpsertCaptured(ctx, dexsync.CapturedPokemon{PokemonID: 25, PokemonName: "pikachu", UserID: "ash", CreatedAt: now}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertCaptured(ctx, dexsync.CapturedPokemon{PokemonID: 6, PokemonName: "charizard", UserID: "ash", CreatedAt: now}); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListCaptured(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].PokemonID != 6 {
		t.Fatalf("list = %+v, want 2 entries ordered by id", list)
	}

	if err := s.DeleteCaptured(ctx, 6); err != nil {
		t.Fatal(err)
	}
	// Deleting an absent entry is fine.
	if err := s.DeleteCaptured(ctx, 6); err != nil {
		t.Fatal(err)
	}

	replacement := []dexsync.CapturedPokemon{
		{PokemonID: 1, PokemonName: "bulbasaur", UserID: "ash", CreatedAt: now},
		{PokemonID: 4, PokemonName: "charmander", UserID: "ash", CreatedAt: now},
		{PokemonID: 7, PokemonName: "squirtle", UserID: "ash", CreatedAt: now},
	}
	if err := s.ReplaceCaptured(ctx, replacement); err != nil {
		t.Fatal(err)
	}

	list, err = s.ListCaptured(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].PokemonName != "bulbasaur" {
		t.Errorf("replaced list = %+v", list)
	}
}
