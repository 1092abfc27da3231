// Package telemetry wires structured logging, Prometheus metrics, and
// distributed tracing for hypervisor-service.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// HTTPRequestDuration records request latency by method, route, and status.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "hypervisor",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// SchedulerTicksTotal counts completed scheduler ticks.
var SchedulerTicksTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "hypervisor",
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Total number of scheduler ticks run.",
	},
)

// SchedulerTickDuration records scheduler tick duration.
var SchedulerTickDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "hypervisor",
		Subsystem: "scheduler",
		Name:      "tick_duration_seconds",
		Help:      "Scheduler tick duration in seconds, across all clusters.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	},
)

// DeploymentsScheduledTotal counts deployments admitted per cluster.
var DeploymentsScheduledTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hypervisor",
		Subsystem: "scheduler",
		Name:      "deployments_scheduled_total",
		Help:      "Total number of deployments admitted to RUNNING by the scheduler.",
	},
	[]string{"cluster_id"},
)

// DeploymentsPreemptedTotal counts deployments preempted per cluster.
var DeploymentsPreemptedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hypervisor",
		Subsystem: "scheduler",
		Name:      "deployments_preempted_total",
		Help:      "Total number of running deployments preempted by the scheduler.",
	},
	[]string{"cluster_id"},
)

// DeploymentsUnschedulableTotal counts pending deployments left unscheduled after a tick.
var DeploymentsUnschedulableTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hypervisor",
		Subsystem: "scheduler",
		Name:      "deployments_unschedulable_total",
		Help:      "Total number of pending deployments left unscheduled after a tick.",
	},
	[]string{"cluster_id"},
)

// ClusterAvailableRatio reports available/total for each resource dimension,
// updated after every ledger Allocate and Release.
var ClusterAvailableRatio = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "hypervisor",
		Subsystem: "ledger",
		Name:      "available_ratio",
		Help:      "Fraction of total capacity currently available, by cluster and resource dimension.",
	},
	[]string{"cluster_id", "resource"},
)

// LedgerClampTotal counts times release() had to clamp available_* back to total_*.
var LedgerClampTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hypervisor",
		Subsystem: "ledger",
		Name:      "clamp_total",
		Help:      "Total number of times a release clamped available resources back to capacity.",
	},
	[]string{"cluster_id", "resource"},
)

// All returns every hypervisor-service-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		SchedulerTicksTotal,
		SchedulerTickDuration,
		DeploymentsScheduledTotal,
		DeploymentsPreemptedTotal,
		DeploymentsUnschedulableTotal,
		ClusterAvailableRatio,
		LedgerClampTotal,
	}
}
