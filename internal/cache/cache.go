// Package cache provides the TTL cache fronting all remote Pokémon data:
// size-bounded with insertion-order eviction, a periodic two-phase sweep,
// flavor-text deduplication, and staggered batch preloading.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMaxSize bounds the entry count when no explicit bound is given.
const DefaultMaxSize = 100

// Loader produces a value for a key on cache miss, typically a remote fetch.
type Loader[T any] func(ctx context.Context) (T, error)

type entry[T any] struct {
	data      T
	createdAt time.Time
	expiresAt time.Time
}

// Cache is a TTL key/value cache bounded by entry count. Eviction removes
// oldest-createdAt entries first: insertion-order, not access-order, so the
// sweep cost stays bounded without per-access recency bookkeeping.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]entry[T]
	maxSize int

	hits      int64
	misses    int64
	evictions int64

	metrics *Metrics
}

// New creates a cache bounded to maxSize entries. A non-positive maxSize
// falls back to DefaultMaxSize. metrics may be nil.
func New[T any](maxSize int, metrics *Metrics) *Cache[T] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache[T]{
		entries: make(map[string]entry[T]),
		maxSize: maxSize,
		metrics: metrics,
	}
}

// Get returns the cached value for key when one is valid, otherwise invokes
// loader, stores the result with the given ttl, and returns it.
//
// The loader runs without the cache lock held; after it resumes, the fill
// re-checks for a racing fill and keeps whichever entry landed first.
func (c *Cache[T]) Get(ctx context.Context, key string, ttl time.Duration, loader Loader[T]) (T, error) {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		c.hits++
		c.mu.Unlock()
		c.metrics.hit()
		return e.data, nil
	}
	c.misses++
	c.mu.Unlock()
	c.metrics.miss()

	data, err := loader(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("cache load %q: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent fill may have completed while the loader ran.
	if e, ok := c.entries[key]; ok && time.Now().Before(e.expiresAt) {
		return e.data, nil
	}
	filledAt := time.Now()
	c.entries[key] = entry[T]{data: data, createdAt: filledAt, expiresAt: filledAt.Add(ttl)}
	return data, nil
}

// Peek returns the cached value without counting a hit or invoking a loader.
func (c *Cache[T]) Peek(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && time.Now().Before(e.expiresAt) {
		return e.data, true
	}
	var zero T
	return zero, false
}

// Contains reports whether a valid entry exists for key.
func (c *Cache[T]) Contains(key string) bool {
	_, ok := c.Peek(key)
	return ok
}

// Put stores a value directly, bypassing the loader path.
// Used by preloading to warm entries.
func (c *Cache[T]) Put(key string, data T, ttl time.Duration) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[T]{data: data, createdAt: now, expiresAt: now.Add(ttl)}
}

// Invalidate removes all entries whose key starts with prefix and returns
// the number removed. An empty prefix clears the whole cache.
func (c *Cache[T]) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Size returns the current entry count, including expired entries that a
// sweep has not yet removed.
func (c *Cache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes all expired entries, then, if the cache still exceeds its
// bound, evicts oldest-createdAt entries until at or under the bound.
// Expiry strictly precedes size-based eviction. Returns the removed counts.
func (c *Cache[T]) Sweep() (expired, evicted int) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Phase 1: expiry.
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			expired++
		}
	}

	// Phase 2: size bound, oldest insertion first.
	if over := len(c.entries) - c.maxSize; over > 0 {
		type aged struct {
			key       string
			createdAt time.Time
		}
		byAge := make([]aged, 0, len(c.entries))
		for key, e := range c.entries {
			byAge = append(byAge, aged{key: key, createdAt: e.createdAt})
		}
		sort.Slice(byAge, func(i, j int) bool {
			return byAge[i].createdAt.Before(byAge[j].createdAt)
		})
		for i := 0; i < over; i++ {
			delete(c.entries, byAge[i].key)
			evicted++
		}
	}

	c.evictions += int64(evicted)
	c.metrics.evict(evicted)
	return expired, evicted
}

// Stats is an observational snapshot; it never affects correctness.
type Stats struct {
	Entries           int     `json:"entries"`
	Hits              int64   `json:"hits"`
	Misses            int64   `json:"misses"`
	HitRate           float64 `json:"hit_rate"`
	ApproxMemoryBytes int     `json:"approx_memory_bytes"`
}

// Stats returns counters and an approximate memory footprint computed from
// the JSON encoding of each entry.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	approx := 0
	for key, e := range c.entries {
		approx += len(key)
		if data, err := json.Marshal(e.data); err == nil {
			approx += len(data)
		}
	}

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}

	return Stats{
		Entries:           len(c.entries),
		Hits:              c.hits,
		Misses:            c.misses,
		HitRate:           rate,
		ApproxMemoryBytes: approx,
	}
}

// RunSweeper sweeps on a fixed interval until ctx is cancelled.
func (c *Cache[T]) RunSweeper(ctx context.Context, interval time.Duration) {
	slog.Info("worker started",
		"component", "cache",
		"worker", "sweeper",
		"action", "worker_started",
		"interval", interval.String(),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "cache",
				"worker", "sweeper",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			expired, evicted := c.Sweep()
			if expired > 0 || evicted > 0 {
				slog.Info("sweep completed",
					"component", "cache",
					"worker", "sweeper",
					"action", "sweep_complete",
					"expired", expired,
					"evicted", evicted,
					"remaining", c.Size(),
				)
			}
		}
	}
}
