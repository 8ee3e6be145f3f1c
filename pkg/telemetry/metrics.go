package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricNodesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckhand",
		Name:      "nodes_executed_total",
		Help:      "Number of graph nodes executed, by outcome.",
	}, []string{"outcome"})
	metricRetryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deckhand",
		Name:      "retry_attempts_total",
		Help:      "Number of retry-validate attempts beyond the first.",
	})
	metricValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deckhand",
		Name:      "validation_failures_total",
		Help:      "Number of unit outputs rejected by a validator.",
	})
	metricSessionsPaused = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deckhand",
		Name:      "sessions_paused_total",
		Help:      "Number of sessions suspended at a checkpoint.",
	})
	metricSessionsResumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deckhand",
		Name:      "sessions_resumed_total",
		Help:      "Number of sessions resumed from a checkpoint.",
	})
)

// RecordNodeExecuted increments the node execution counter.
func RecordNodeExecuted(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	metricNodesExecuted.WithLabelValues(outcome).Inc()
}

// RecordRetryAttempt increments the retry counter.
func RecordRetryAttempt() {
	metricRetryAttempts.Inc()
}

// RecordValidationFailure increments the validation failure counter.
func RecordValidationFailure() {
	metricValidationFailures.Inc()
}

// RecordSessionPaused increments the paused session counter.
func RecordSessionPaused() {
	metricSessionsPaused.Inc()
}

// RecordSessionResumed increments the resumed session counter.
func RecordSessionResumed() {
	metricSessionsResumed.Inc()
}
