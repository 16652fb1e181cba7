// Package metrics provides Prometheus metrics collection for the
// softpbx engine: thread-runtime occupancy, script-runner outcomes,
// message-bus dispatch, and timer-worker activity. Adapted from the
// teacher's HTTP/blockchain/database-shaped Metrics struct, replacing
// every domain counter with one of this engine's own.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nullteam/softpbx/infrastructure/runtime"
)

// Metrics holds every Prometheus collector the engine exposes.
type Metrics struct {
	// Thread runtime (spec.md §4.1)
	ThreadsLive     prometheus.Gauge
	ThreadsCreated  prometheus.Counter
	ThreadShutdowns *prometheus.CounterVec // label: mode=soft|hard

	// Script runner (spec.md §4.3)
	RunnerExecutions *prometheus.CounterVec // label: outcome=succeeded|failed|incomplete
	RunnerDuration   prometheus.Histogram

	// Message bus (spec.md §4.5)
	BusDispatched *prometheus.CounterVec // label: consumed=true|false
	BusEnqueued   prometheus.Counter

	// Timer worker (spec.md §4.9)
	TimerFires      prometheus.Counter
	TimerQueueDepth prometheus.Gauge

	// Process health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default
// Prometheus registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against
// registerer (pass nil to skip registration, e.g. in tests that don't
// care about collection).
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		ThreadsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "softpbx_threads_live",
			Help: "Current number of live OS threads in the thread registry",
		}),
		ThreadsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "softpbx_threads_created_total",
			Help: "Total number of OS threads created",
		}),
		ThreadShutdowns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softpbx_thread_shutdowns_total",
				Help: "Total number of thread cancellations by mode",
			},
			[]string{"mode"},
		),

		RunnerExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softpbx_runner_executions_total",
				Help: "Total number of script runner Execute() calls by outcome",
			},
			[]string{"outcome"},
		),
		RunnerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "softpbx_runner_execution_seconds",
			Help:    "Script runner Execute() wall time",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		BusDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softpbx_bus_dispatched_total",
				Help: "Total number of messages dispatched through the bus, by consumed flag",
			},
			[]string{"consumed"},
		),
		BusEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "softpbx_bus_enqueued_total",
			Help: "Total number of messages enqueued for async dispatch",
		}),

		TimerFires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "softpbx_timer_fires_total",
			Help: "Total number of timer worker callback firings",
		}),
		TimerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "softpbx_timer_queue_depth",
			Help: "Current number of pending timer worker entries",
		}),

		ServiceUptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "softpbx_uptime_seconds",
			Help: "Process uptime in seconds",
		}),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "softpbx_info",
				Help: "Service build/environment information",
			},
			[]string{"service", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.ThreadsLive,
			m.ThreadsCreated,
			m.ThreadShutdowns,
			m.RunnerExecutions,
			m.RunnerDuration,
			m.BusDispatched,
			m.BusEnqueued,
			m.TimerFires,
			m.TimerQueueDepth,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, string(runtime.Env())).Set(1)
	return m
}

// RecordThreadCreated increments the thread-creation counter.
func (m *Metrics) RecordThreadCreated() {
	m.ThreadsCreated.Inc()
}

// RecordThreadShutdown records one cancellation in the given mode
// ("soft" or "hard").
func (m *Metrics) RecordThreadShutdown(mode string) {
	m.ThreadShutdowns.WithLabelValues(mode).Inc()
}

// SetThreadsLive sets the live-thread gauge to count.
func (m *Metrics) SetThreadsLive(count int) {
	m.ThreadsLive.Set(float64(count))
}

// RecordRunnerExecution records one Execute() call's outcome and
// duration.
func (m *Metrics) RecordRunnerExecution(outcome string, duration time.Duration) {
	m.RunnerExecutions.WithLabelValues(outcome).Inc()
	m.RunnerDuration.Observe(duration.Seconds())
}

// RecordDispatch records one bus Dispatch() call's consumed outcome.
func (m *Metrics) RecordDispatch(consumed bool) {
	label := "false"
	if consumed {
		label = "true"
	}
	m.BusDispatched.WithLabelValues(label).Inc()
}

// RecordEnqueue increments the async-enqueue counter.
func (m *Metrics) RecordEnqueue() {
	m.BusEnqueued.Inc()
}

// RecordTimerFire increments the timer-fire counter.
func (m *Metrics) RecordTimerFire() {
	m.TimerFires.Inc()
}

// SetTimerQueueDepth sets the pending-timer-entry gauge.
func (m *Metrics) SetTimerQueueDepth(depth int) {
	m.TimerQueueDepth.Set(float64(depth))
}

// UpdateUptime sets the uptime gauge from startTime.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// Enabled reports whether Prometheus metrics should be exposed.
//
// Defaults:
//   - production: disabled unless explicitly enabled via METRICS_ENABLED
//   - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	return runtime.MetricsEnabled()
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes (once) and returns the process-wide Metrics
// instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the process-wide Metrics instance, initializing a
// default one if Init was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New("softpbxd")
	}
	return globalMetrics
}
