// Package metrics provides Prometheus metrics for the intake service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DraftWritesTotal tracks persisted draft writes by result
	DraftWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "draft",
			Name:      "writes_total",
			Help:      "Total number of draft writes to durable storage by result",
		},
		[]string{"result"},
	)

	// DraftLoadsTotal tracks draft restores by outcome
	DraftLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "draft",
			Name:      "loads_total",
			Help:      "Total number of draft loads by outcome",
		},
		[]string{"outcome"},
	)

	// StepValidationsTotal tracks step validations by step and result
	StepValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "wizard",
			Name:      "step_validations_total",
			Help:      "Total number of step validations by step and result",
		},
		[]string{"step", "result"},
	)

	// SubmissionsTotal tracks submissions by final state
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "submission",
			Name:      "total",
			Help:      "Total number of application submissions by state",
		},
		[]string{"state"},
	)

	// SubmissionDuration tracks the remote submission call duration
	SubmissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "intake",
			Subsystem: "submission",
			Name:      "request_duration_seconds",
			Help:      "Duration of remote submission requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// ActiveSessions tracks wizard sessions currently held in memory
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "intake",
			Subsystem: "wizard",
			Name:      "active_sessions",
			Help:      "Number of wizard sessions currently held in memory",
		},
	)

	// EventsPublishedTotal tracks submission events sent to Kafka
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of submission events published by result",
		},
		[]string{"result"},
	)
)
