package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dexsync/dexsync/internal/broadcast"
	"github.com/dexsync/dexsync/internal/store"
	dexsync "github.com/dexsync/dexsync/internal/sync"
)

// DebounceWindow coalesces rapid repeat toggles on the same pokemon id so a
// double-click produces at most one log entry reflecting the final state.
const DebounceWindow = time.Second

// Collection is the materialized, de-duplicated set of captured Pokémon.
//
// Toggle is optimistic: the in-memory set changes first and the storage
// flush follows. A failed flush is logged but not rolled back; local storage
// is treated as reliable so the UI path never blocks on it. The health
// monitor surfaces the fallout when that assumption breaks.
type Collection struct {
	mu     sync.Mutex
	items  map[int]dexsync.CapturedPokemon
	gens   map[int]uint64
	store  *store.SQLiteStore
	log    *EventLog
	userID string
	window time.Duration
	wg     sync.WaitGroup

	// Counts publishes the set size after every membership change. Late
	// subscribers immediately receive the current count.
	Counts *broadcast.Broadcaster[int]
}

// NewCollection loads the persisted captured set into memory.
func NewCollection(ctx context.Context, s *store.SQLiteStore, log *EventLog, userID string) (*Collection, error) {
	persisted, err := s.ListCaptured(ctx)
	if err != nil {
		return nil, fmt.Errorf("load captured set: %w", err)
	}

	items := make(map[int]dexsync.CapturedPokemon, len(persisted))
	for _, c := range persisted {
		items[c.PokemonID] = c
	}

	return &Collection{
		items:  items,
		gens:   make(map[int]uint64),
		store:  s,
		log:    log,
		userID: userID,
		window: DebounceWindow,
		Counts: broadcast.NewWithValue(len(items)),
	}, nil
}

// SetDebounceWindow overrides the toggle debounce window. Intended for tests.
func (c *Collection) SetDebounceWindow(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = d
}

// IsCaptured reports membership in O(1).
func (c *Collection) IsCaptured(pokemonID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[pokemonID]
	return ok
}

// Count returns the current set size.
func (c *Collection) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Items returns a snapshot of the captured set ordered by pokemon id.
func (c *Collection) Items() []dexsync.CapturedPokemon {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Collection) snapshotLocked() []dexsync.CapturedPokemon {
	items := make([]dexsync.CapturedPokemon, 0, len(c.items))
	for _, item := range c.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].PokemonID < items[j].PokemonID })
	return items
}

// Toggle flips membership for one pokemon and returns the new state.
//
// Membership and the storage flush happen immediately; the replicated log
// entry is deferred by the debounce window and carries only the final state
// of a rapid toggle burst. The per-id generation counter cancels superseded
// log appends without timer bookkeeping.
func (c *Collection) Toggle(ctx context.Context, pokemonID int, name string) bool {
	c.mu.Lock()

	_, captured := c.items[pokemonID]
	newState := !captured
	if captured {
		delete(c.items, pokemonID)
	} else {
		c.items[pokemonID] = dexsync.CapturedPokemon{
			UserID:      c.userID,
			PokemonID:   pokemonID,
			PokemonName: name,
			CreatedAt:   time.Now().UTC(),
		}
	}
	count := len(c.items)

	c.gens[pokemonID]++
	gen := c.gens[pokemonID]
	window := c.window
	item, present := c.items[pokemonID]
	c.mu.Unlock()

	c.Counts.Publish(count)

	// Flush the materialized set. Failure is logged, not rolled back.
	var err error
	if present {
		err = c.store.UpsertCaptured(ctx, item)
	} else {
		err = c.store.DeleteCaptured(ctx, pokemonID)
	}
	if err != nil {
		slog.Error("captured set flush failed",
			"component", "capture",
			"action", "flush_failed",
			"pokemon_id", pokemonID,
			"error", err,
		)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.commitToggle(pokemonID, name, gen, window)
	}()

	return newState
}

// Flush waits for deferred log appends from recent toggles to finish. Call
// during shutdown before closing the store, otherwise a toggle inside the
// debounce window can lose its log entry.
func (c *Collection) Flush() {
	c.wg.Wait()
}

// commitToggle appends the log entry for a toggle after the debounce window,
// unless a newer toggle on the same id superseded it.
func (c *Collection) commitToggle(pokemonID int, name string, gen uint64, window time.Duration) {
	if window > 0 {
		time.Sleep(window)
	}

	c.mu.Lock()
	if c.gens[pokemonID] != gen {
		c.mu.Unlock()
		return
	}
	_, captured := c.items[pokemonID]
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.log.Append(ctx, pokemonID, name, dexsync.ActionCapture, !captured); err != nil {
		slog.Error("toggle log append failed",
			"component", "capture",
			"action", "append_failed",
			"pokemon_id", pokemonID,
			"error", err,
		)
	}
}

// Favorite records a favorite action in the log. Favorites are replicated
// but not materialized into the captured set.
func (c *Collection) Favorite(ctx context.Context, pokemonID int, name string, removed bool) error {
	_, err := c.log.Append(ctx, pokemonID, name, dexsync.ActionFavorite, removed)
	return err
}

// Reconcile replaces local state with the authoritative remote listing.
// When fetch fails the last known good state is kept untouched: an empty
// result from a successful fetch clears the set, a failed fetch never does.
func (c *Collection) Reconcile(ctx context.Context, fetch func(ctx context.Context) ([]dexsync.CapturedPokemon, error)) error {
	remote, err := fetch(ctx)
	if err != nil {
		slog.Warn("reconcile skipped, keeping last known state",
			"component", "capture",
			"action", "reconcile_skipped",
			"error", err,
		)
		return fmt.Errorf("reconcile fetch: %w", err)
	}

	items := make(map[int]dexsync.CapturedPokemon, len(remote))
	for _, r := range remote {
		items[r.PokemonID] = r
	}

	c.mu.Lock()
	c.items = items
	count := len(items)
	c.mu.Unlock()

	c.Counts.Publish(count)

	if err := c.store.ReplaceCaptured(ctx, remote); err != nil {
		return fmt.Errorf("persist reconciled set: %w", err)
	}

	slog.Info("captured set reconciled",
		"component", "capture",
		"action", "reconciled",
		"count", count,
	)
	return nil
}

// Export returns the captured set as a JSON snapshot.
func (c *Collection) Export() ([]byte, error) {
	c.mu.Lock()
	items := c.snapshotLocked()
	c.mu.Unlock()

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export captured set: %w", err)
	}
	return data, nil
}

// Import replaces the captured set from a JSON snapshot. The whole import is
// validated before anything is committed: the first invalid record rejects
// it atomically.
func (c *Collection) Import(ctx context.Context, data []byte) error {
	var items []dexsync.CapturedPokemon
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("parse import: %w", err)
	}

	seen := make(map[int]struct{}, len(items))
	for i, item := range items {
		if item.PokemonID <= 0 {
			return fmt.Errorf("import record %d: invalid pokemon_id %d", i, item.PokemonID)
		}
		if item.PokemonName == "" {
			return fmt.Errorf("import record %d: empty pokemon_name", i)
		}
		if _, dup := seen[item.PokemonID]; dup {
			return fmt.Errorf("import record %d: duplicate pokemon_id %d", i, item.PokemonID)
		}
		seen[item.PokemonID] = struct{}{}
	}

	byID := make(map[int]dexsync.CapturedPokemon, len(items))
	for _, item := range items {
		if item.UserID == "" {
			item.UserID = c.userID
		}
		byID[item.PokemonID] = item
	}

	c.mu.Lock()
	c.items = byID
	count := len(byID)
	imported := make([]dexsync.CapturedPokemon, 0, len(byID))
	for _, item := range byID {
		imported = append(imported, item)
	}
	c.mu.Unlock()

	c.Counts.Publish(count)

	if err := c.store.ReplaceCaptured(ctx, imported); err != nil {
		return fmt.Errorf("persist imported set: %w", err)
	}
	return nil
}
