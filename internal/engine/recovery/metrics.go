package recovery

import (
	"github.com/prometheus/client_golang/prometheus"
	m "go.trai.ch/docsync/internal/metrics"
)

type metrics struct {
	Synced prometheus.Counter
	Failed prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "recovery"

	return metrics{
		Synced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "items_synced_total",
			Help:      "Local-only items written to the remote store.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "items_failed_total",
			Help:      "Local-only items that could not be written.",
		}),
	}
}

// Metrics returns the sync's Prometheus collectors.
func (s *Sync) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
