// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IssuesClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "familybook",
		Name:      "issues_closed_total",
		Help:      "Issues moved from open to closed.",
	})

	DeadlineWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "familybook",
		Name:      "deadline_warnings_total",
		Help:      "Deadline warnings emitted.",
	})

	ProductionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "familybook",
		Name:      "production_requests_total",
		Help:      "Book production requests sent to the renderer, by result.",
	}, []string{"result"})

	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "familybook",
		Name:      "gateway_calls_total",
		Help:      "Payment gateway calls, by operation and status.",
	}, []string{"op", "status"})

	Teardowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "familybook",
		Name:      "group_teardowns_total",
		Help:      "Group deletion attempts, by outcome.",
	}, []string{"outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "familybook",
		Name:      "scheduler_job_duration_seconds",
		Help:      "Duration of scheduled jobs.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})
)
