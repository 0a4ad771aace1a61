package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── API Gateway ─────────────────────────────────────────────────────────────

	APIExecutionsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "api",
		Name:      "executions_submitted_total",
		Help:      "Total executions submitted through the API gateway.",
	}, []string{"owner_type"})

	// ─── Worker ──────────────────────────────────────────────────────────────────

	WorkerJobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "worker",
		Name:      "jobs_processed_total",
		Help:      "Total jobs processed, labelled by queue and terminal status.",
	}, []string{"queue", "status"})

	WorkerJobsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentflow",
		Subsystem: "worker",
		Name:      "jobs_inflight",
		Help:      "Jobs currently being executed.",
	}, []string{"queue"})

	WorkerJobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentflow",
		Subsystem: "worker",
		Name:      "job_duration_seconds",
		Help:      "End-to-end job execution time in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"queue"})

	WorkerRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "worker",
		Name:      "retries_total",
		Help:      "Total retry attempts.",
	}, []string{"queue"})

	WorkerDLQTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "worker",
		Name:      "dlq_total",
		Help:      "Total jobs forwarded to the dead-letter queue.",
	}, []string{"queue"})

	// ─── Router ──────────────────────────────────────────────────────────────────

	RouterJobsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "router",
		Name:      "jobs_routed_total",
		Help:      "Total jobs routed to per-queue topics.",
	}, []string{"queue"})

	RouterDLQTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "router",
		Name:      "dlq_total",
		Help:      "Total jobs sent to DLQ by the router (malformed, no kind, rate limited).",
	})

	RouterRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "router",
		Name:      "rate_limited_total",
		Help:      "Total jobs rejected by the rate limiter.",
	})

	// ─── Tracking & broadcast ────────────────────────────────────────────────────

	TrackingWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "tracking",
		Name:      "writes_total",
		Help:      "Job status store writes, labelled by status and outcome.",
	}, []string{"status", "outcome"})

	TrackingSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "tracking",
		Name:      "skipped_total",
		Help:      "Queue events ignored because the job carried no correlation id.",
	})

	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "broadcast",
		Name:      "events_total",
		Help:      "Broadcast events, labelled by event name and outcome.",
	}, []string{"event", "outcome"})

	BroadcastTruncationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "broadcast",
		Name:      "truncations_total",
		Help:      "Results truncated to fit the real-time payload budget.",
	})

	// ─── Executions & output actions ─────────────────────────────────────────────

	ExecutionsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "execution",
		Name:      "mark_failed_total",
		Help:      "Failure-marking attempts, labelled by outcome (marked, already_failed, error).",
	}, []string{"outcome"})

	ActionsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "actions",
		Name:      "dispatched_total",
		Help:      "Output action delivery jobs enqueued, labelled by provider and outcome.",
	}, []string{"provider", "outcome"})

	ActionDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "actions",
		Name:      "deliveries_total",
		Help:      "Output action deliveries, labelled by provider and outcome.",
	}, []string{"provider", "outcome"})
)
