// ABOUTME: Thread-safe TTL cache mapping idempotency keys to earlier results
// ABOUTME: Lets the append route answer a retried request without storing the message twice

package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// entry stores a remembered value, when it was stored and its list position.
// A pending entry is a reservation made by Claim; ready is closed when it
// is resolved by Remember or dropped.
type entry[V any] struct {
	key      string
	value    V
	storedAt time.Time
	element  *list.Element
	pending  bool
	ready    chan struct{}
}

// Cache is a TTL-based, size-limited map from key to value. Entries are
// evicted oldest-first when the cache is full and dropped once expired.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size. A background
// goroutine sweeps expired entries every sweep interval (a minute when zero).
func New[V any](ttl time.Duration, maxSize int, sweep time.Duration) *Cache[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	if sweep <= 0 {
		sweep = time.Minute
	}
	c := &Cache[V]{
		entries: make(map[string]*entry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweep)
	return c
}

// Lookup returns the value remembered for key if it has not expired.
func (c *Cache[V]) Lookup(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.pending || c.now().Sub(e.storedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Claim atomically returns the value remembered for key or reserves key for
// the caller. When found is false the caller owns the reservation and must
// resolve it with Remember or Forget. While another caller holds the
// reservation, Claim waits for it to be resolved or for ctx to end.
func (c *Cache[V]) Claim(ctx context.Context, key string) (value V, found bool, err error) {
	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if ok && !e.pending && c.now().Sub(e.storedAt) >= c.ttl {
			c.removeLocked(e)
			ok = false
		}
		if !ok {
			c.insertLocked(&entry[V]{key: key, pending: true, ready: make(chan struct{})})
			c.mu.Unlock()
			return value, false, nil
		}
		if !e.pending {
			c.mu.Unlock()
			return e.value, true, nil
		}
		ready := e.ready
		c.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return value, false, ctx.Err()
		}
	}
}

// Remember stores value under key, replacing any earlier value and
// refreshing its age. The oldest entry is evicted when the cache is full.
func (c *Cache[V]) Remember(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, exists := c.entries[key]; exists {
		e.value = value
		e.storedAt = now
		c.order.MoveToBack(e.element)
		if e.pending {
			e.pending = false
			close(e.ready)
		}
		return
	}

	c.insertLocked(&entry[V]{key: key, value: value})
}

// Forget drops key if present. A pending reservation is released, and one
// of the callers waiting in Claim takes it over.
func (c *Cache[V]) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// insertLocked adds e at the back, evicting the oldest entry when full.
// Must be called with mu held.
func (c *Cache[V]) insertLocked(e *entry[V]) {
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	e.storedAt = c.now()
	e.element = c.order.PushBack(e)
	c.entries[e.key] = e
}

// removeLocked deletes e and wakes anyone waiting on its reservation.
// Must be called with mu held.
func (c *Cache[V]) removeLocked(e *entry[V]) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
	if e.pending {
		e.pending = false
		close(e.ready)
	}
}

// Len returns the number of entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest removes the front of the order list. Must be called with mu held.
func (c *Cache[V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	e, _ := front.Value.(*entry[V])
	c.removeLocked(e)
}

func (c *Cache[V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes expired entries. Entries are ordered by storedAt, so it
// stops at the first live one.
func (c *Cache[V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e, _ := front.Value.(*entry[V])
		if e.pending || now.Sub(e.storedAt) < c.ttl {
			return
		}
		c.removeLocked(e)
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
