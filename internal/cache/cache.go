// Package cache keeps loaded datasets for a limited time. Writers never touch
// it; readers invalidate explicitly after their own writes.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/spigell/cvstore/internal/metrics"
)

// DefaultTTL is how long an entry stays fresh.
const DefaultTTL = 5 * time.Minute

const sep = "|"

// Cache stores values by key.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	// Invalidate drops key and every key built from it with Key, returning
	// how many entries were removed.
	Invalidate(key string) int
	Purge()
}

// Key joins parts into a cache key. Key(a, b) is invalidated by Invalidate(Key(a)).
func Key(parts ...string) string {
	return strings.Join(parts, sep)
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// TTL is a Cache whose entries expire after a fixed duration.
type TTL[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry[V]
	metrics *metrics.Metrics
}

var _ Cache[int] = (*TTL[int])(nil)

// NewTTL creates a cache. A non-positive ttl means DefaultTTL.
func NewTTL[V any](ttl time.Duration, m *metrics.Metrics) *TTL[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTL[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry[V]),
		metrics: m,
	}
}

// WithClock replaces the time source.
func (c *TTL[V]) WithClock(now func() time.Time) *TTL[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && !c.now().Before(e.expires) {
		delete(c.entries, key)
		ok = false
	}
	c.metrics.CacheLookup(ok)

	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expires: c.now().Add(c.ttl)}
}

func (c *TTL[V]) Invalidate(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if k == key || strings.HasPrefix(k, key+sep) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *TTL[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len returns the number of stored entries, expired ones included.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Nop never stores anything.
type Nop[V any] struct{}

var _ Cache[int] = Nop[int]{}

func (Nop[V]) Get(string) (V, bool) {
	var zero V
	return zero, false
}

func (Nop[V]) Set(string, V) {}

func (Nop[V]) Invalidate(string) int { return 0 }

func (Nop[V]) Purge() {}
