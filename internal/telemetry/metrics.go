package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency. Shared across every route.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "bentham",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// StudiesCreatedTotal counts admitted studies by tenant.
var StudiesCreatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "bentham",
		Subsystem: "studies",
		Name:      "created_total",
		Help:      "Total number of studies created.",
	},
	[]string{"tenant_id"},
)

// StudiesCompletedTotal counts studies reaching a terminal status, by outcome.
var StudiesCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "bentham",
		Subsystem: "studies",
		Name:      "completed_total",
		Help:      "Total number of studies that reached a terminal status.",
	},
	[]string{"status"},
)

// JobsExecutedTotal counts cell executions by surface and outcome.
var JobsExecutedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "bentham",
		Subsystem: "jobs",
		Name:      "executed_total",
		Help:      "Total number of job cells executed, by surface and outcome.",
	},
	[]string{"surface_id", "outcome"},
)

// JobDuration tracks cell execution latency by surface.
var JobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "bentham",
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Job cell execution duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	},
	[]string{"surface_id"},
)

// RecoveryStrategyTotal counts which strategy resolved a recovery attempt.
var RecoveryStrategyTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "bentham",
		Subsystem: "recovery",
		Name:      "strategy_total",
		Help:      "Total number of recovery attempts resolved by strategy.",
	},
	[]string{"surface_id", "strategy"},
)

// CircuitState reports the current circuit-breaker state per surface as a
// gauge: 0=closed, 1=half-open, 2=open.
var CircuitState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "bentham",
		Subsystem: "recovery",
		Name:      "circuit_state",
		Help:      "Circuit breaker state per surface (0=closed, 1=half-open, 2=open).",
	},
	[]string{"surface_id"},
)

// RateLimitRejectedTotal counts requests rejected by the per-key token bucket.
var RateLimitRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "bentham",
		Subsystem: "ratelimit",
		Name:      "rejected_total",
		Help:      "Total number of requests rejected by the per-key rate limiter.",
	},
	[]string{"api_key_id"},
)

// All returns every Bentham-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		StudiesCreatedTotal,
		StudiesCompletedTotal,
		JobsExecutedTotal,
		JobDuration,
		RecoveryStrategyTotal,
		CircuitState,
		RateLimitRejectedTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors, the shared HTTPRequestDuration metric, and any additional
// service-specific collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
