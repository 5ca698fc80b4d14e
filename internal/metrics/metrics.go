package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all console metrics
type Metrics struct {
	// Poller
	PollCycles    atomic.Uint64
	PollFailures  atomic.Uint64
	PollDiscarded atomic.Uint64 // responses dropped after stop or when overtaken
	RowsRendered  atomic.Uint64
	PollersActive atomic.Int64
	LastRowCount  atomic.Uint64

	// Uploads
	Uploads         atomic.Uint64
	UploadsRejected atomic.Uint64
	UploadBytes     atomic.Uint64

	// Preview
	PreviewFrames atomic.Uint64
	StreamErrors  atomic.Uint64

	// Console
	ConsoleClients atomic.Int64

	transitions        *prometheus.CounterVec
	invalidTransitions *prometheus.CounterVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_preview_transitions_total",
			Help: "Preview source transitions by target state",
		}, []string{"state"}),
		invalidTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_preview_invalid_transitions_total",
			Help: "Rejected preview actions by current state",
		}, []string{"state"}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, v func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		v,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.counter("console_poll_cycles_total", "Detection poll cycles issued", &m.PollCycles)
	m.counter("console_poll_failures_total", "Detection poll cycles that failed to fetch or decode", &m.PollFailures)
	m.counter("console_poll_discarded_total", "Detection responses discarded as stale", &m.PollDiscarded)
	m.counter("console_rows_rendered_total", "Detection rows rendered", &m.RowsRendered)
	m.gauge("console_pollers_active", "Active detection pollers (0 or 1)",
		func() float64 { return float64(m.PollersActive.Load()) })
	m.gauge("console_table_rows", "Rows in the last rendered table",
		func() float64 { return float64(m.LastRowCount.Load()) })

	m.counter("console_uploads_total", "Successful file uploads", &m.Uploads)
	m.counter("console_uploads_rejected_total", "Rejected or failed file uploads", &m.UploadsRejected)
	m.counter("console_upload_bytes_total", "Bytes sent in successful uploads", &m.UploadBytes)

	m.counter("console_preview_frames_total", "Preview frames received or generated", &m.PreviewFrames)
	m.counter("console_stream_errors_total", "Preview stream connection or read errors", &m.StreamErrors)

	m.gauge("console_clients", "Connected console streaming clients",
		func() float64 { return float64(m.ConsoleClients.Load()) })

	m.registry.MustRegister(m.transitions, m.invalidTransitions)
}

// ObserveTransition counts a transition into state.
func (m *Metrics) ObserveTransition(state string) {
	m.transitions.WithLabelValues(state).Inc()
}

// ObserveInvalidTransition counts a rejected action while in state.
func (m *Metrics) ObserveInvalidTransition(state string) {
	m.invalidTransitions.WithLabelValues(state).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
