package capture

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dexsync/dexsync/internal/store"
	dexsync "github.com/dexsync/dexsync/internal/sync"
)

func newTestCollection(t *testing.T) (*Collection, *EventLog) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	log := NewEventLog(s, "ash", filepath.Join(dir, "backups"), nil)
	col, err := NewCollection(context.Background(), s, log, "ash")
	if err != nil {
		t.Fatalf("NewCollection: %v", err)
	}
	col.SetDebounceWindow(0)
	return col, log
}

func waitPending(t *testing.T, log *EventLog, want int) []dexsync.CaptureEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		pending, err := log.Pending(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) == want {
			return pending
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pending never reached %d events", want)
	return nil
}

func TestToggle_PairRestoresMembership(t *testing.T) {
	col, _ := newTestCollection(t)
	ctx := context.Background()

	if col.IsCaptured(25) {
		t.Fatal("fresh collection should not contain 25")
	}

	if got := col.Toggle(ctx, 25, "pikachu"); !got {
		t.Error("first toggle should report captured")
	}
	if !col.IsCaptured(25) {
		t.Error("25 missing after first toggle")
	}

	if got := col.Toggle(ctx, 25, "pikachu"); got {
		t.Error("second toggle should report released")
	}
	if col.IsCaptured(25) {
		t.Error("25 still present after toggle pair")
	}
}

func TestToggle_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	ctx := context.Background()

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	log := NewEventLog(s, "ash", filepath.Join(dir, "backups"), nil)
	col, err := NewCollection(ctx, s, log, "ash")
	if err != nil {
		t.Fatal(err)
	}
	col.SetDebounceWindow(0)
	col.Toggle(ctx, 25, "pikachu")
	col.Toggle(ctx, 6, "charizard")
	s.Close()

	s2, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s2.Close() })
	col2, err := NewCollection(ctx, s2, NewEventLog(s2, "ash", dir, nil), "ash")
	if err != nil {
		t.Fatal(err)
	}

	if !col2.IsCaptured(25) || !col2.IsCaptured(6) {
		t.Errorf("reloaded collection = %+v", col2.Items())
	}
	if col2.Count() != 2 {
		t.Errorf("reloaded count = %d, want 2", col2.Count())
	}
}

func TestToggle_DebounceCoalescesRapidToggles(t *testing.T) {
	col, log := newTestCollection(t)
	col.SetDebounceWindow(150 * time.Millisecond)
	ctx := context.Background()

	// Rapid double-click: membership ends where it started and only the
	// final state reaches the log.
	col.Toggle(ctx, 25, "pikachu")
	col.Toggle(ctx, 25, "pikachu")

	pending := waitPending(t, log, 1)
	if pending[0].Metadata[dexsync.MetaRemoved] != true {
		t.Errorf("coalesced event metadata = %v, want removed=true", pending[0].Metadata)
	}
}

func TestFlush_WaitsForDebouncedCommit(t *testing.T) {
	col, log := newTestCollection(t)
	col.SetDebounceWindow(150 * time.Millisecond)
	ctx := context.Background()

	col.Toggle(ctx, 25, "pikachu")

	// A shutdown right after a toggle must not lose the deferred log entry.
	col.Flush()

	pending, err := log.Pending(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending after flush = %d, want 1", len(pending))
	}
	if pending[0].PokemonID != 25 {
		t.Errorf("flushed event = %+v", pending[0])
	}
}

func TestToggle_DifferentIDsAreIndependent(t *testing.T) {
	col, log := newTestCollection(t)
	col.SetDebounceWindow(50 * time.Millisecond)
	ctx := context.Background()

	col.Toggle(ctx, 25, "pikachu")
	col.Toggle(ctx, 6, "charizard")

	waitPending(t, log, 2)
}

func TestCounts_BroadcastsMembershipChanges(t *testing.T) {
	col, _ := newTestCollection(t)

	ch, cancel := col.Counts.Subscribe()
	defer cancel()

	// Seeded with the current count.
	if got := <-ch; got != 0 {
		t.Fatalf("seeded count = %d, want 0", got)
	}

	col.Toggle(context.Background(), 25, "pikachu")
	select {
	case got := <-ch:
		if got != 1 {
			t.Errorf("count after toggle = %d, want 1", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no count published after toggle")
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	col, _ := newTestCollection(t)
	ctx := context.Background()

	col.Toggle(ctx, 25, "pikachu")
	col.Toggle(ctx, 6, "charizard")

	data, err := col.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	col.Toggle(ctx, 25, "pikachu") // drift from the snapshot

	if err := col.Import(ctx, data); err != nil {
		t.Fatalf("Import: %v", err)
	}

	if col.Count() != 2 || !col.IsCaptured(25) || !col.IsCaptured(6) {
		t.Errorf("after round-trip: count=%d items=%+v", col.Count(), col.Items())
	}
}

func TestImport_RejectsInvalidRecordAtomically(t *testing.T) {
	col, _ := newTestCollection(t)
	ctx := context.Background()

	col.Toggle(ctx, 25, "pikachu")

	bad, _ := json.Marshal([]map[string]any{
		{"pokemon_id": 1, "pokemon_name": "bulbasaur"},
		{"pokemon_id": 0, "pokemon_name": "missingno"},
	})
	if err := col.Import(ctx, bad); err == nil {
		t.Fatal("import with invalid pokemon_id should fail")
	}

	// Nothing committed: prior state intact.
	if col.Count() != 1 || !col.IsCaptured(25) {
		t.Errorf("state after rejected import: count=%d", col.Count())
	}

	noName, _ := json.Marshal([]map[string]any{
		{"pokemon_id": 1, "pokemon_name": ""},
	})
	if err := col.Import(ctx, noName); err == nil {
		t.Fatal("import with empty name should fail")
	}
}

func TestReconcile_ReplacesStateOnSuccess(t *testing.T) {
	col, _ := newTestCollection(t)
	ctx := context.Background()

	col.Toggle(ctx, 25, "pikachu")

	remote := []dexsync.CapturedPokemon{
		{UserID: "ash", PokemonID: 1, PokemonName: "bulbasaur", CreatedAt: time.Now().UTC()},
		{UserID: "ash", PokemonID: 4, PokemonName: "charmander", CreatedAt: time.Now().UTC()},
	}
	err := col.Reconcile(ctx, func(ctx context.Context) ([]dexsync.CapturedPokemon, error) {
		return remote, nil
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if col.Count() != 2 || col.IsCaptured(25) || !col.IsCaptured(1) {
		t.Errorf("reconciled state: count=%d items=%+v", col.Count(), col.Items())
	}
}

func TestReconcile_KeepsStateOnFetchFailure(t *testing.T) {
	col, _ := newTestCollection(t)
	ctx := context.Background()

	col.Toggle(ctx, 25, "pikachu")

	err := col.Reconcile(ctx, func(ctx context.Context) ([]dexsync.CapturedPokemon, error) {
		return nil, errors.New("backend unreachable")
	})
	if err == nil {
		t.Fatal("Reconcile should surface the fetch error")
	}

	// Fail-safe: last known good state untouched.
	if col.Count() != 1 || !col.IsCaptured(25) {
		t.Errorf("state after failed reconcile: count=%d", col.Count())
	}
}

func TestReconcile_EmptyRemoteClearsSet(t *testing.T) {
	col, _ := newTestCollection(t)
	ctx := context.Background()

	col.Toggle(ctx, 25, "pikachu")

	err := col.Reconcile(ctx, func(ctx context.Context) ([]dexsync.CapturedPokemon, error) {
		return []dexsync.CapturedPokemon{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// A successful empty listing is authoritative, unlike a failed fetch.
	if col.Count() != 0 {
		t.Errorf("count = %d, want 0 after empty reconcile", col.Count())
	}
}

func TestFavorite_AppendsFavoriteEvent(t *testing.T) {
	col, log := newTestCollection(t)
	ctx := context.Background()

	if err := col.Favorite(ctx, 133, "eevee", false); err != nil {
		t.Fatal(err)
	}

	pending := waitPending(t, log, 1)
	if pending[0].Action != dexsync.ActionFavorite {
		t.Errorf("action = %v, want favorite", pending[0].Action)
	}
	if col.IsCaptured(133) {
		t.Error("favorite must not materialize into the captured set")
	}
}
