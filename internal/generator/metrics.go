package generator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GenerationDurationSeconds tracks generator service request latency.
	GenerationDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradereflect_generator_request_duration_seconds",
		Help:    "Duration of review generator requests",
		Buckets: prometheus.DefBuckets,
	})

	// GenerationErrorsTotal tracks failed generator requests.
	GenerationErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradereflect_generator_errors_total",
		Help: "Total number of failed review generator requests",
	})
)
