package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishedTotal tracks events appended to the Redis stream.
	PublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradereflect_events_published_total",
		Help: "Total number of events published to the Redis stream",
	})

	// PublishErrorsTotal tracks failed stream appends.
	PublishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradereflect_events_publish_errors_total",
		Help: "Total number of failed event publishes",
	})
)
