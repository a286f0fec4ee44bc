// Package metrics exposes codecrew runtime counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/orchestrator"
	"github.com/joss/codecrew/internal/permission"
)

var (
	_ permission.Recorder       = (*Metrics)(nil)
	_ orchestrator.TurnRecorder = (*Metrics)(nil)
)

// Metrics holds the collectors. Each instance owns its registry so tests
// and multiple sessions never collide on registration.
//
//   - codecrew_tool_calls_total{tool,status}
//   - codecrew_tool_duration_seconds{tool}
//   - codecrew_approvals_total{decision}
//   - codecrew_orchestrator_turns_total{worker}
//   - codecrew_background_processes
//   - codecrew_events_total{kind}
//   - codecrew_events_dropped_total
type Metrics struct {
	reg *prometheus.Registry

	ToolCalls     *prometheus.CounterVec
	ToolDuration  *prometheus.HistogramVec
	Approvals     *prometheus.CounterVec
	Turns         *prometheus.CounterVec
	Processes     prometheus.Gauge
	Events        *prometheus.CounterVec
	EventsDropped prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "codecrew_tool_calls_total",
			Help: "Tool calls by outcome",
		}, []string{"tool", "status"}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codecrew_tool_duration_seconds",
			Help:    "Tool execution time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"tool"}),
		Approvals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "codecrew_approvals_total",
			Help: "Permission gate decisions by source",
		}, []string{"decision"}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "codecrew_orchestrator_turns_total",
			Help: "Worker turns run by the orchestrator",
		}, []string{"worker"}),
		Processes: f.NewGauge(prometheus.GaugeOpts{
			Name: "codecrew_background_processes",
			Help: "Background processes currently tracked",
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "codecrew_events_total",
			Help: "Tool events delivered to observers",
		}, []string{"kind"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "codecrew_events_dropped_total",
			Help: "Tool events dropped because the bus buffer was full",
		}),
	}
}

// ToolCall implements permission.Recorder.
func (m *Metrics) ToolCall(tool, status string, d time.Duration) {
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	if status != domain.StatusRejected {
		m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
	}
}

// Approval implements permission.Recorder.
func (m *Metrics) Approval(decision string) {
	m.Approvals.WithLabelValues(decision).Inc()
}

// Turn implements orchestrator.TurnRecorder.
func (m *Metrics) Turn(worker string) {
	m.Turns.WithLabelValues(worker).Inc()
}

// SetProcesses is handed to process.WithActiveGauge.
func (m *Metrics) SetProcesses(n int) {
	m.Processes.Set(float64(n))
}

// Dropped is handed to event.WithDropHook.
func (m *Metrics) Dropped() {
	m.EventsDropped.Inc()
}

// Handle makes Metrics an event bus sink.
func (m *Metrics) Handle(ev domain.ToolEvent) {
	m.Events.WithLabelValues(string(ev.Kind)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
