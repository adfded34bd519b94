package mta

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	ticks    prometheus.Counter
	skipped  prometheus.Counter
	errors   prometheus.Counter
	purged   prometheus.Counter
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
}

func newMetrics(f promauto.Factory) *metrics {
	return &metrics{
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kuvert",
			Name:      "processor_ticks_total",
			Help:      "Number of processor ticks that ran.",
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kuvert",
			Name:      "processor_ticks_skipped_total",
			Help:      "Number of ticks skipped since a previous run was in progress.",
		}),
		errors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kuvert",
			Name:      "processor_errors_total",
			Help:      "Number of runs aborted by an error.",
		}),
		purged: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kuvert",
			Name:      "processor_purged_total",
			Help:      "Number of sent messages removed by the retention sweep.",
		}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kuvert",
			Name:      "processor_messages_total",
			Help:      "Delivery attempts by outcome.",
		}, []string{"outcome"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kuvert",
			Name:      "processor_tick_duration_seconds",
			Help:      "Duration of processor ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
	}
}
