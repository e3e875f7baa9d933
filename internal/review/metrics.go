package review

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReviewsResolvedTotal tracks resolved reviews by resolution kind.
	ReviewsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradereflect_reviews_resolved_total",
		Help: "Total number of reviews resolved, by kind (user or auto)",
	}, []string{"kind"})

	// ClaimConflictsTotal tracks claim attempts that lost the race. This is
	// expected steady-state behavior, counted for visibility only.
	ClaimConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradereflect_review_claim_conflicts_total",
		Help: "Total number of claim attempts that lost the resolution race",
	})

	// GenerationRetriesTotal tracks generator retries within the budget.
	GenerationRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradereflect_review_generation_retries_total",
		Help: "Total number of review generation retries",
	})

	// GenerationGivenUpTotal tracks fills whose generation permanently failed.
	GenerationGivenUpTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradereflect_review_generation_given_up_total",
		Help: "Total number of fills left reviewless after exhausting the retry budget",
	})

	// PendingTimers tracks in-flight deadline timers.
	PendingTimers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradereflect_review_pending_timers",
		Help: "Number of fills currently awaiting resolution",
	})
)
