package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	m "go.trai.ch/docsync/internal/metrics"
)

type metrics struct {
	Hits        prometheus.Counter
	Misses      prometheus.Counter
	Expirations prometheus.Counter
	Evictions   prometheus.Counter
	StaleWrites prometheus.Counter
}

func newMetrics(name string) metrics {
	subsystem := "cache"
	labels := prometheus.Labels{"cache": name}

	return metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			Name:        "hits_total",
			Help:        "Reads served from the cache.",
			ConstLabels: labels,
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			Name:        "misses_total",
			Help:        "Reads that found no live entry.",
			ConstLabels: labels,
		}),
		Expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			Name:        "expirations_total",
			Help:        "Entries evicted because their TTL elapsed.",
			ConstLabels: labels,
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			Name:        "invalidations_total",
			Help:        "Entries removed by explicit invalidation.",
			ConstLabels: labels,
		}),
		StaleWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			Name:        "stale_writes_total",
			Help:        "Fetched values dropped because the key was invalidated during the fetch.",
			ConstLabels: labels,
		}),
	}
}

// Metrics returns the cache's Prometheus collectors.
func (c *Cache[V]) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(c.metrics)
}
