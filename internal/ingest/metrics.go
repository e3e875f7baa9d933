package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FillsIngestedTotal tracks newly persisted fills.
	FillsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradereflect_ingest_fills_total",
		Help: "Total number of newly ingested fills",
	})

	// DuplicateFillsTotal tracks fills re-observed by overlapping windows.
	DuplicateFillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradereflect_ingest_duplicate_fills_total",
		Help: "Total number of already-known fills observed again",
	})

	// PollErrorsTotal tracks failed poll operations.
	PollErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradereflect_ingest_poll_errors_total",
		Help: "Total number of transient poll failures",
	})

	// AuthFailuresTotal tracks accounts put into auth backoff.
	AuthFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradereflect_ingest_auth_failures_total",
		Help: "Total number of poll attempts rejected for bad credentials",
	})

	// PollDurationSeconds tracks full sweep latency.
	PollDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradereflect_ingest_poll_duration_seconds",
		Help:    "Duration of one ingestion sweep across all accounts",
		Buckets: prometheus.DefBuckets,
	})
)
