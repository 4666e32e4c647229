package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream supervisor.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	reinitsTotal    *prometheus.CounterVec
	fatalErrors     *prometheus.CounterVec
	fragmentsTotal  *prometheus.CounterVec
	backendCommands *prometheus.CounterVec
	sessions        prometheus.Gauge
	sessionStatus   *prometheus.GaugeVec
}

// New creates and registers Prometheus metrics for the supervisor.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "supervisor_http_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "supervisor_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	reinitsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supervisor_reinitializations_total",
		Help: "Full playback session reinitializations by camera and reason",
	}, []string{"camera", "reason"})
	fatalErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supervisor_fatal_errors_total",
		Help: "Fatal playback engine errors by camera and kind",
	}, []string{"camera", "kind"})
	fragmentsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supervisor_fragments_loaded_total",
		Help: "Media fragments loaded by camera",
	}, []string{"camera"})
	backendCommands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supervisor_backend_commands_total",
		Help: "Backend commands issued by command and outcome",
	}, []string{"command", "outcome"})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "supervisor_sessions",
		Help: "Number of supervised camera sessions",
	})
	sessionStatus := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "supervisor_session_status",
		Help: "1 for the current status of each camera session, 0 otherwise",
	}, []string{"camera", "status"})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		reinitsTotal,
		fatalErrors,
		fragmentsTotal,
		backendCommands,
		sessions,
		sessionStatus,
	)

	return &Metrics{
		registry:        registry,
		requestsTotal:   requestsTotal,
		errorsTotal:     errorsTotal,
		reinitsTotal:    reinitsTotal,
		fatalErrors:     fatalErrors,
		fragmentsTotal:  fragmentsTotal,
		backendCommands: backendCommands,
		sessions:        sessions,
		sessionStatus:   sessionStatus,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncReinit counts a full reinitialization of camera's session.
func (m *Metrics) IncReinit(camera, reason string) {
	m.reinitsTotal.WithLabelValues(camera, reason).Inc()
}

// IncFatalError counts a fatal engine error.
func (m *Metrics) IncFatalError(camera, kind string) {
	m.fatalErrors.WithLabelValues(camera, kind).Inc()
}

// IncFragments counts a loaded fragment.
func (m *Metrics) IncFragments(camera string) {
	m.fragmentsTotal.WithLabelValues(camera).Inc()
}

// IncBackendCommand counts a backend command by outcome ("ok" or "error").
func (m *Metrics) IncBackendCommand(command, outcome string) {
	m.backendCommands.WithLabelValues(command, outcome).Inc()
}

// SetSessions sets the supervised sessions gauge.
func (m *Metrics) SetSessions(n int) {
	m.sessions.Set(float64(n))
}

// SetStatus marks status as the current one for camera, clearing the others.
func (m *Metrics) SetStatus(camera, status string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		m.sessionStatus.WithLabelValues(camera, s).Set(v)
	}
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
