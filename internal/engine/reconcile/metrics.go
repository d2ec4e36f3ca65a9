package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	m "go.trai.ch/docsync/internal/metrics"
)

type metrics struct {
	Checked   prometheus.Counter
	Corrected prometheus.Counter
	Failures  prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "reconcile"

	return metrics{
		Checked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "entities_checked_total",
			Help:      "Entities whose counters were compared with their edges.",
		}),
		Corrected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "counters_corrected_total",
			Help:      "Counters overwritten with the edge count.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "entity_failures_total",
			Help:      "Entities skipped because the store failed.",
		}),
	}
}

// Metrics returns the job's Prometheus collectors.
func (j *Job) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(j.metrics)
}
