package counters

import (
	"github.com/prometheus/client_golang/prometheus"
	m "go.trai.ch/docsync/internal/metrics"
)

type metrics struct {
	Applied    prometheus.Counter
	Skipped    prometheus.Counter
	Duplicates prometheus.Counter
	Ignored    prometheus.Counter
	Failed     prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "counters"

	return metrics{
		Applied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "applied_total",
			Help:      "Edge events that moved counters.",
		}),
		Skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "skipped_total",
			Help:      "Edge events already applied or superseded by a later change.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "duplicates_total",
			Help:      "Redelivered edge events dropped by ID.",
		}),
		Ignored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "ignored_total",
			Help:      "Edge events for collections without counters.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "failed_total",
			Help:      "Edge events that could not be applied.",
		}),
	}
}

// Metrics returns the syncer's Prometheus collectors.
func (s *Syncer) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
