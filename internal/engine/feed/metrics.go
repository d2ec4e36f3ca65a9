package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	m "go.trai.ch/docsync/internal/metrics"
)

type metrics struct {
	Pages    prometheus.Counter
	Queries  prometheus.Counter
	Posts    prometheus.Counter
	Failures prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "feed"

	return metrics{
		Pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "pages_total",
			Help:      "Feed pages assembled.",
		}),
		Queries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "batch_queries_total",
			Help:      "Batched author queries issued.",
		}),
		Posts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "posts_total",
			Help:      "Posts returned in feed pages.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "page_failures_total",
			Help:      "Feed pages failed because a batch query failed.",
		}),
	}
}

// Metrics returns the assembler's Prometheus collectors.
func (a *Assembler) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(a.metrics)
}
