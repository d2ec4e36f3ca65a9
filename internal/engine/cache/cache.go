// Package cache provides the time-bounded cache that sits in front of the billed remote store.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 16

// Cache is a sharded TTL cache. An entry is never served once its TTL has elapsed;
// expired entries are evicted lazily by the read that observes them.
type Cache[V any] struct {
	shards  []*shard[V]
	ttl     time.Duration
	now     func() time.Time
	metrics metrics
}

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	// gen advances on every invalidation touching the shard.
	gen uint64
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	shards int
	now    func() time.Time
	name   string
}

// WithShards sets the number of independently locked shards.
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithName labels the cache's metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// New creates a cache whose entries live for ttl.
func New[V any](ttl time.Duration, opts ...Option) *Cache[V] {
	o := options{shards: defaultShards, now: time.Now, name: "default"}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cache[V]{
		shards:  make([]*shard[V], o.shards),
		ttl:     ttl,
		now:     o.now,
		metrics: newMetrics(o.name),
	}
	for i := range c.shards {
		c.shards[i] = &shard[V]{entries: make(map[string]entry[V])}
	}
	return c
}

// TTL returns the configured time to live.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

func (c *Cache[V]) shardFor(key string) *shard[V] {
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}

// Get returns the live value for key. An expired entry is removed and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	s := c.shardFor(key)
	now := c.now()

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		c.metrics.Misses.Inc()
		var zero V
		return zero, false
	}
	if c.expired(e, now) {
		s.mu.Lock()
		// A concurrent Set may have refreshed the entry since the read lock was released.
		if cur, ok := s.entries[key]; ok && c.expired(cur, now) {
			delete(s.entries, key)
			c.metrics.Expirations.Inc()
		}
		s.mu.Unlock()
		c.metrics.Misses.Inc()
		var zero V
		return zero, false
	}

	c.metrics.Hits.Inc()
	return e.value, true
}

func (c *Cache[V]) expired(e entry[V], now time.Time) bool {
	return now.Sub(e.insertedAt) >= c.ttl
}

// Set stores value under key and resets its age to zero.
func (c *Cache[V]) Set(key string, value V) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.entries[key] = entry[V]{value: value, insertedAt: c.now()}
	s.mu.Unlock()
}

// SnapshotGen returns the generation of key's shard. Take it before reading the value from
// the remote store and pass it to SetWithGen.
func (c *Cache[V]) SnapshotGen(key string) uint64 {
	s := c.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// SetWithGen stores value only if no invalidation reached key's shard since gen was taken.
// It reports whether the value was stored.
func (c *Cache[V]) SetWithGen(key string, value V, gen uint64) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		c.metrics.StaleWrites.Inc()
		return false
	}
	s.entries[key] = entry[V]{value: value, insertedAt: c.now()}
	return true
}

// Invalidate removes key. Removing a missing key is a no-op for the contents but still
// fences off fetches of key that are in flight.
func (c *Cache[V]) Invalidate(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.gen++
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		c.metrics.Evictions.Inc()
	}
	s.mu.Unlock()
}

// InvalidatePrefix removes every key that starts with prefix.
func (c *Cache[V]) InvalidatePrefix(prefix string) {
	for _, s := range c.shards {
		s.mu.Lock()
		s.gen++
		for key := range s.entries {
			if strings.HasPrefix(key, prefix) {
				delete(s.entries, key)
				c.metrics.Evictions.Inc()
			}
		}
		s.mu.Unlock()
	}
}

// InvalidateAll empties the cache.
func (c *Cache[V]) InvalidateAll() {
	for _, s := range c.shards {
		s.mu.Lock()
		n := len(s.entries)
		clear(s.entries)
		s.gen++
		s.mu.Unlock()
		c.metrics.Evictions.Add(float64(n))
	}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
