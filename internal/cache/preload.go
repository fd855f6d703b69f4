package cache

import (
	"context"
	"log/slog"
	"time"
)

// Priority selects the batch size and stagger of a preload pass.
type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityLow  Priority = "low"
)

// Batch caps and stagger delays per priority. Staggering keeps cache warming
// from bursting the upstream API.
const (
	highBatchLimit = 5
	lowBatchLimit  = 3

	highStagger = 150 * time.Millisecond
	lowStagger  = 400 * time.Millisecond
)

// EntityLoader fetches one entity by id for cache warming.
type EntityLoader[T any] func(ctx context.Context, id int) (T, error)

// KeyFunc derives the cache key for an entity id.
type KeyFunc func(id int) string

// Preloader warms a cache in the background. It is side-effect only: load
// failures are swallowed and logged, never surfaced to the caller.
type Preloader[T any] struct {
	cache *Cache[T]
	load  EntityLoader[T]
	key   KeyFunc
	ttl   time.Duration
}

// NewPreloader creates a preloader that warms c through load.
func NewPreloader[T any](c *Cache[T], load EntityLoader[T], key KeyFunc, ttl time.Duration) *Preloader[T] {
	return &Preloader[T]{cache: c, load: load, key: key, ttl: ttl}
}

// PreloadBatch warms the cache for ids not already cached, staggering each
// request start. At most 5 ids are warmed per high-priority call, 3 per
// low-priority call. Returns once all warming goroutines are scheduled.
func (p *Preloader[T]) PreloadBatch(ctx context.Context, ids []int, priority Priority) {
	limit, stagger := lowBatchLimit, lowStagger
	if priority == PriorityHigh {
		limit, stagger = highBatchLimit, highStagger
	}

	scheduled := 0
	for _, id := range ids {
		if scheduled >= limit {
			break
		}
		if p.cache.Contains(p.key(id)) {
			continue
		}
		go p.warm(ctx, id, time.Duration(scheduled)*stagger)
		scheduled++
	}

	if scheduled > 0 {
		slog.Debug("preload batch scheduled",
			"component", "cache",
			"action", "preload_scheduled",
			"requested", len(ids),
			"scheduled", scheduled,
			"priority", string(priority),
		)
	}
}

// warm fetches one entity after its stagger delay and stores it.
func (p *Preloader[T]) warm(ctx context.Context, id int, delay time.Duration) {
	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	// Another path may have filled the entry during the stagger delay.
	if p.cache.Contains(p.key(id)) {
		return
	}

	data, err := p.load(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("preload failed",
			"component", "cache",
			"action", "preload_failed",
			"id", id,
			"error", err,
		)
		return
	}

	p.cache.Put(p.key(id), data, p.ttl)
}
