// Package metrics holds the process-wide Prometheus collectors. They are served by
// the optional loopback debug server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notifybridge"

// Delivery pipeline
var (
	// NotificationsTotal counts one outcome per processed event.
	// outcome is sent, suppressed or send_failed; reason is the filter reason or error category.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Processed notifications by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	// DuplicatesSkipped counts events dropped because their key was already seen.
	DuplicatesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_duplicate_total",
			Help:      "Notifications skipped as already delivered",
		},
	)

	PollFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Failed source fetches by category",
		},
		[]string{"category"},
	)

	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of one fetch-filter-dispatch cycle",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Overlay send latency by result",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 3},
		},
		[]string{"result"},
	)
)

// Config persistence
var (
	ConfigSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_saves_total",
			Help:      "Config flushes by status",
		},
		[]string{"status"},
	)
)

// Transport
var (
	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overlay_circuit_breaker_state",
			Help:      "Overlay circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overlay_circuit_breaker_state_changes_total",
			Help:      "Overlay circuit breaker transitions by new state",
		},
		[]string{"state"},
	)

	OverlayConnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overlay_connects_total",
			Help:      "Overlay websocket dial attempts by status",
		},
		[]string{"status"},
	)
)

// Lifecycle
var (
	// LifecycleState is 0 starting, 1 running, 2 draining, 3 stopped.
	LifecycleState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lifecycle_state",
			Help:      "Bridge lifecycle state (0=starting, 1=running, 2=draining, 3=stopped)",
		},
	)

	HostAlive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_runtime_alive",
			Help:      "1 while the host VR runtime is observed running",
		},
	)
)
