// Package metrics exposes the Prometheus collectors the Overseer's Health
// loop publishes from (spec.md §4.5 loop 4 "publish an Overseer-health
// entity") and the Orchestrator's task executor records against. Grounded
// on the teacher's pkg/metrics/metrics.go: a package-level Registry plus
// Namespace/Subsystem-scoped collector vars, registered once at package
// init. No HTTP surface is exposed here (spec.md §1 Non-goals scope the
// UI/API layer out); a composition root may mount promhttp.HandlerFor
// against Registry if it chooses to.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds Glassdome's application-specific collectors, kept
// separate from prometheus.DefaultRegisterer so tests can construct a
// scratch Registry per case without global collector collisions.
var Registry = prometheus.NewRegistry()

var (
	// TaskRuns counts orchestrator task executions by kind and outcome.
	TaskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glassdome",
			Subsystem: "orchestrator",
			Name:      "task_runs_total",
			Help:      "Total orchestrator task executions by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// TaskDuration records how long each task kind takes to settle.
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "glassdome",
			Subsystem: "orchestrator",
			Name:      "task_duration_seconds",
			Help:      "Duration of orchestrator task execution.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"kind"},
	)

	// LabsByStatus is a gauge of currently known labs per LabStatus value,
	// refreshed by the Registry on every lab upsert.
	LabsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "glassdome",
			Subsystem: "registry",
			Name:      "labs_by_status",
			Help:      "Current number of labs in each status.",
		},
		[]string{"status"},
	)

	// IPPoolUtilization tracks allocated addresses per cidr, including
	// whether the allocation came from the fallback range (spec.md §4.3).
	IPPoolUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "glassdome",
			Subsystem: "ippool",
			Name:      "allocated_addresses",
			Help:      "Current allocated addresses per cidr.",
		},
		[]string{"cidr"},
	)

	// OverseerQueueDepth mirrors domain.OverseerHealth.QueueDepth for
	// scraping alongside the rest of the fleet's metrics.
	OverseerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "glassdome",
			Subsystem: "overseer",
			Name:      "request_queue_depth",
			Help:      "Current depth of the Overseer's approved-request queue.",
		},
	)

	// OverseerLoopElapsed records each named loop's last tick duration.
	OverseerLoopElapsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "glassdome",
			Subsystem: "overseer",
			Name:      "loop_elapsed_seconds",
			Help:      "Elapsed time of the Overseer's last tick, per loop.",
		},
		[]string{"loop"},
	)

	// PlatformReachable mirrors the Overseer's per-platform health gate.
	PlatformReachable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "glassdome",
			Subsystem: "overseer",
			Name:      "platform_reachable",
			Help:      "1 if the platform had a successful poll within the freshness horizon, else 0.",
		},
		[]string{"platform"},
	)

	// RequestDenials counts gating denials by rule name (spec.md §4.5).
	RequestDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glassdome",
			Subsystem: "overseer",
			Name:      "request_denials_total",
			Help:      "Total Requests denied by the gating function, by rule.",
		},
		[]string{"rule"},
	)
)

func init() {
	Registry.MustRegister(
		TaskRuns,
		TaskDuration,
		LabsByStatus,
		IPPoolUtilization,
		OverseerQueueDepth,
		OverseerLoopElapsed,
		PlatformReachable,
		RequestDenials,
	)
}
