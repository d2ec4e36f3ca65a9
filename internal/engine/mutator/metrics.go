package mutator

import (
	"github.com/prometheus/client_golang/prometheus"
	dm "go.trai.ch/docsync/internal/metrics"
)

type metrics struct {
	Submitted    prometheus.Counter
	Succeeded    prometheus.Counter
	RolledBack   prometheus.Counter
	Conflicted   prometheus.Counter
	Collapsed    prometheus.Counter
	Replayed     prometheus.Counter
	SendDuration prometheus.Histogram
}

func newMetrics() metrics {
	subsystem := "mutator"

	return metrics{
		Submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: dm.Namespace,
			Subsystem: subsystem,
			Name:      "submitted_total",
			Help:      "Mutations accepted locally.",
		}),
		Succeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: dm.Namespace,
			Subsystem: subsystem,
			Name:      "succeeded_total",
			Help:      "Mutations confirmed by the remote store.",
		}),
		RolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: dm.Namespace,
			Subsystem: subsystem,
			Name:      "rolled_back_total",
			Help:      "Mutations whose remote write failed and whose local change was undone.",
		}),
		Conflicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: dm.Namespace,
			Subsystem: subsystem,
			Name:      "conflicted_total",
			Help:      "Queued mutations undone because an earlier mutation on the same key failed.",
		}),
		Collapsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: dm.Namespace,
			Subsystem: subsystem,
			Name:      "collapsed_total",
			Help:      "Toggle mutations cancelled out by their queued inverse.",
		}),
		Replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: dm.Namespace,
			Subsystem: subsystem,
			Name:      "replayed_total",
			Help:      "Pending mutations from earlier runs confirmed on resume.",
		}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: dm.Namespace,
			Subsystem: subsystem,
			Name:      "send_duration_seconds",
			Help:      "Duration of remote writes.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Metrics returns the mutator's Prometheus collectors.
func (m *Mutator) Metrics() []prometheus.Collector {
	return dm.PrometheusCollectorsFromFields(m.metrics)
}
