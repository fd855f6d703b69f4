// Package broadcast provides a last-value broadcaster: subscribers receive
// the current value immediately on subscribe, then every subsequent publish
// in order. Slow subscribers have stale intermediate values dropped rather
// than blocking the publisher.
package broadcast

import "sync"

// Broadcaster fans a stream of values out to any number of subscribers.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	current T
	seeded  bool
	subs    map[int]chan T
	nextID  int
}

// New creates a Broadcaster with no initial value. Subscribers added before
// the first Publish receive nothing until it happens.
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[int]chan T)}
}

// NewWithValue creates a Broadcaster seeded with an initial value.
func NewWithValue[T any](initial T) *Broadcaster[T] {
	b := New[T]()
	b.current = initial
	b.seeded = true
	return b
}

// Subscribe registers a subscriber and returns its channel plus a cancel
// function. The channel is seeded with the current value when one exists.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan T, 8)
	b.subs[id] = ch
	if b.seeded {
		ch <- b.current
	}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish records v as the current value and delivers it to all subscribers.
// Delivery order matches publish order per subscriber. If a subscriber's
// buffer is full the oldest buffered value is dropped so the newest wins.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = v
	b.seeded = true

	for _, ch := range b.subs {
		for {
			select {
			case ch <- v:
			default:
				select {
				case <-ch:
					continue
				default:
				}
			}
			break
		}
	}
}

// Current returns the most recently published value.
func (b *Broadcaster[T]) Current() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.seeded
}
