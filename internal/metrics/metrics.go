package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_evaluations_total",
		Help: "Total number of evaluations, labelled by decision outcome.",
	}, []string{"decision"})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "authgate_evaluation_duration_ms",
		Help:    "End-to-end evaluation latency in milliseconds.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500},
	})

	FailOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authgate_fail_open_total",
		Help: "Total number of decisions synthesized in fail-open mode.",
	})

	RulesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_rules_matched_total",
		Help: "Total number of rule matches, labelled by rule ID.",
	}, []string{"rule_id"})

	VelocityStoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authgate_velocity_store_errors_total",
		Help: "Total number of velocity counter store failures (degraded to not-exceeded).",
	})

	GateShed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authgate_gate_shed_total",
		Help: "Total number of requests shed by the admission gate.",
	})

	GateProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authgate_gate_processed_total",
		Help: "Total number of requests admitted past the gate.",
	})

	GatePermitsAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "authgate_gate_permits_available",
		Help: "Admission gate permits currently available.",
	})

	OutboxEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authgate_outbox_enqueued_total",
		Help: "Total number of decision events accepted onto the outbox queue.",
	})

	OutboxDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_outbox_dropped_total",
		Help: "Total number of decision events dropped, labelled by reason.",
	}, []string{"reason"}) // "invalid", "disabled", "queue_full"

	OutboxPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authgate_outbox_persisted_total",
		Help: "Total number of decision events durably persisted.",
	})

	OutboxPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authgate_outbox_persist_failures_total",
		Help: "Total number of failed persistence attempts (retried with backoff).",
	})

	OutboxQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "authgate_outbox_queue_depth",
		Help: "Current number of decision events waiting on the outbox queue.",
	})

	RulesetSwaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_ruleset_swaps_total",
		Help: "Total number of rule-set hot-swap attempts, labelled by status.",
	}, []string{"status"})
)
