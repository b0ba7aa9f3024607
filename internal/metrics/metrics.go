// Package metrics exposes the runner's own local Prometheus introspection
// endpoint: idle state, in-flight task count, and last exit code.
// Grounded on pkg/kata-monitor/metrics.go's registerMetrics()/gauge-set
// idiom, reduced from kata-monitor's shim-scraping proxy (which this
// runner has no analogue for) to a plain self-reporting registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "task_runner"

// Registry holds the gauges the Main Loop updates as it transitions
// between idle and in-flight states.
type Registry struct {
	idle         prometheus.Gauge
	inFlight     prometheus.Gauge
	lastExitCode prometheus.Gauge
	tasksHandled prometheus.Counter
}

// New builds and registers a Registry against a private
// prometheus.Registry, so it never collides with a shared global
// registry.
func New() *Registry {
	r := &Registry{
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "idle",
			Help:      "1 if the runner is idle (no task in flight), 0 otherwise.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Number of tasks currently being handled (0 or 1).",
		}),
		lastExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_exit_code",
			Help:      "Exit code of the most recently finished command.",
		}),
		tasksHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_handled_total",
			Help:      "Total number of tasks this runner has finished handling.",
		}),
	}
	r.idle.Set(1)
	return r
}

// Register attaches r's collectors to reg.
func (r *Registry) Register(reg *prometheus.Registry) {
	reg.MustRegister(r.idle, r.inFlight, r.lastExitCode, r.tasksHandled)
}

// SetIdle records whether the runner currently has a task in flight.
func (r *Registry) SetIdle(idle bool) {
	if idle {
		r.idle.Set(1)
		r.inFlight.Set(0)
	} else {
		r.idle.Set(0)
		r.inFlight.Set(1)
	}
}

// RecordTaskFinished updates the last exit code and increments the
// handled-task counter.
func (r *Registry) RecordTaskFinished(exitCode int) {
	r.lastExitCode.Set(float64(exitCode))
	r.tasksHandled.Inc()
}

// Handler builds the /metrics HTTP handler, registering this Registry
// against a fresh private prometheus.Registry (mirrors
// pkg/kata-monitor's dedicated scrape endpoint, without its shim-proxy
// machinery since this process only ever reports its own state).
func (r *Registry) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	r.Register(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
