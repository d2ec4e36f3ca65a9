// Package coalesce collapses concurrent reads of the same key into a single remote fetch.
package coalesce

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/docsync/internal/engine/cache"
	m "go.trai.ch/docsync/internal/metrics"
	"golang.org/x/sync/singleflight"
)

const defaultFetchTimeout = 10 * time.Second

// FetchFunc performs the remote read for one key.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Coalescer serves reads from a cache and, on a miss, lets exactly one caller per key fetch
// while the others wait for the same result.
type Coalescer[V any] struct {
	cache        *cache.Cache[V]
	group        singleflight.Group
	tracer       ports.Tracer
	fetchTimeout time.Duration
	cacheable    func(V) bool
	metrics      metrics
}

// Option configures a Coalescer.
type Option[V any] func(*Coalescer[V])

// WithFetchTimeout bounds a fetch that no caller is waiting for anymore.
func WithFetchTimeout[V any](d time.Duration) Option[V] {
	return func(c *Coalescer[V]) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithCacheable decides which successful results are stored. Results it rejects are still
// delivered to every waiter.
func WithCacheable[V any](fn func(V) bool) Option[V] {
	return func(c *Coalescer[V]) { c.cacheable = fn }
}

// New creates a Coalescer in front of c.
func New[V any](c *cache.Cache[V], tracer ports.Tracer, name string, opts ...Option[V]) *Coalescer[V] {
	co := &Coalescer[V]{
		cache:        c,
		tracer:       tracer,
		fetchTimeout: defaultFetchTimeout,
		cacheable:    func(V) bool { return true },
		metrics:      newMetrics(name),
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// Cache returns the underlying cache.
func (c *Coalescer[V]) Cache() *cache.Cache[V] {
	return c.cache
}

// FetchOrJoin returns the cached value for key or joins the in-flight fetch for it, starting
// one with fetch if none exists. Errors reach every waiter and are never cached.
//
// When ctx ends the caller stops waiting, but the fetch itself keeps running until it
// completes or the fetch timeout elapses, and still populates the cache.
func (c *Coalescer[V]) FetchOrJoin(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	c.metrics.Requests.Inc()

	ch := c.group.DoChan(key, func() (any, error) {
		// The previous owner may have filled the cache between our miss and this flight.
		if v, ok := c.cache.Get(key); ok {
			return v, nil
		}
		return c.fetch(ctx, key, fetch)
	})

	select {
	case res := <-ch:
		v, _ := res.Val.(V)
		return v, res.Err
	case <-ctx.Done():
		c.metrics.Abandoned.Inc()
		var zero V
		return zero, ctx.Err()
	}
}

func (c *Coalescer[V]) fetch(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	c.metrics.Fetches.Inc()

	gen := c.cache.SnapshotGen(key)
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	fctx, span := c.tracer.Start(fctx, "coalesce.fetch", ports.WithAttribute("key", key))
	defer span.End()

	v, err := fetch(fctx)
	if err != nil {
		span.RecordError(err)
		c.metrics.Failures.Inc()
		return v, err
	}
	// An invalidation during the fetch means v may predate a write; it is returned but not kept.
	if c.cacheable(v) {
		c.cache.SetWithGen(key, v, gen)
	}
	return v, nil
}

// Forget drops the in-flight registration for key so that the next caller starts a fresh
// fetch instead of joining one that may carry stale data.
func (c *Coalescer[V]) Forget(key string) {
	c.group.Forget(key)
}

// Invalidate removes key from the cache and forgets its in-flight fetch, whose result will
// not be stored.
func (c *Coalescer[V]) Invalidate(key string) {
	c.cache.Invalidate(key)
	c.group.Forget(key)
}

type metrics struct {
	Requests  prometheus.Counter
	Fetches   prometheus.Counter
	Failures  prometheus.Counter
	Abandoned prometheus.Counter
}

func newMetrics(name string) metrics {
	subsystem := "coalesce"
	labels := prometheus.Labels{"cache": name}

	return metrics{
		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			Name:        "requests_total",
			Help:        "Cache misses that started or joined a fetch.",
			ConstLabels: labels,
		}),
		Fetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			Name:        "fetches_total",
			Help:        "Remote fetches actually performed.",
			ConstLabels: labels,
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			Name:        "fetch_failures_total",
			Help:        "Remote fetches that returned an error.",
			ConstLabels: labels,
		}),
		Abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			Name:        "abandoned_total",
			Help:        "Callers that stopped waiting before their fetch completed.",
			ConstLabels: labels,
		}),
	}
}

// Metrics returns the coalescer's and its cache's Prometheus collectors.
func (c *Coalescer[V]) Metrics() []prometheus.Collector {
	return append(m.PrometheusCollectorsFromFields(c.metrics), c.cache.Metrics()...)
}
