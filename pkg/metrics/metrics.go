package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the counter processes.
// Using promauto for automatic registration with default registry.
var (
	// --- Shared State Metrics ---

	// CounterValue is the last counter value this process observed.
	CounterValue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sharedcounter",
			Subsystem: "state",
			Name:      "counter",
			Help:      "Last observed value of the shared counter",
		},
	)

	// LockWait tracks time spent waiting for the process-wide lock.
	LockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sharedcounter",
			Subsystem: "state",
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring the process-wide lock",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us to ~26s
		},
	)

	// --- Election Metrics ---

	// IsLeader is 1 while this process leads.
	IsLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sharedcounter",
			Subsystem: "election",
			Name:      "is_leader",
			Help:      "1 if this process is the current leader",
		},
	)

	// LeaderTransitions counts leadership acquisitions by this process.
	LeaderTransitions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sharedcounter",
			Subsystem: "election",
			Name:      "acquisitions_total",
			Help:      "Total number of times this process became leader",
		},
	)

	// --- Scheduler Metrics ---

	// TimerFires counts scheduler timer firings.
	TimerFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sharedcounter",
			Subsystem: "scheduler",
			Name:      "timer_fires_total",
			Help:      "Total number of scheduler timer firings",
		},
		[]string{"timer"},
	)

	// SpawnsSkipped counts spawn ticks skipped because helpers were still running.
	SpawnsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sharedcounter",
			Subsystem: "scheduler",
			Name:      "spawns_skipped_total",
			Help:      "Spawn ticks skipped while previous helpers were running",
		},
	)

	// --- Helper Metrics ---

	// HelpersSpawned counts helper processes launched.
	HelpersSpawned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sharedcounter",
			Subsystem: "helpers",
			Name:      "spawned_total",
			Help:      "Total number of helper processes launched",
		},
		[]string{"tag"},
	)

	// HelperSpawnFailures counts helper launches rejected by the OS.
	HelperSpawnFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sharedcounter",
			Subsystem: "helpers",
			Name:      "spawn_failures_total",
			Help:      "Total number of helper launches that failed",
		},
		[]string{"tag"},
	)

	// HelpersRunning tracks helpers spawned but not yet exited.
	HelpersRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sharedcounter",
			Subsystem: "helpers",
			Name:      "running",
			Help:      "Number of helper processes currently running",
		},
	)

	// HelperDuration tracks helper wall time from spawn to exit.
	HelperDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sharedcounter",
			Subsystem: "helpers",
			Name:      "duration_seconds",
			Help:      "Helper process lifetime in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"tag", "exit_code"},
	)
)

// --- Status API Metrics ---

var (
	// HTTPRequests counts status API requests by route and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sharedcounter",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of status API requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration tracks status API latency. Handlers take the named lock,
	// so slow requests usually mean lock contention.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sharedcounter",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status API request latency in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"route"},
	)
)

// SetLeader records the current leadership state.
func SetLeader(leading bool) {
	if leading {
		IsLeader.Set(1)
		return
	}
	IsLeader.Set(0)
}
