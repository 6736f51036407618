package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerMetrics holds the Prometheus collectors exposed by the serve command.
type ServerMetrics struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	configReloads *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewServerMetrics creates a metrics instance backed by its own registry.
func NewServerMetrics() *ServerMetrics {
	registry := prometheus.NewRegistry()

	m := &ServerMetrics{
		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_pipeline_executions_total",
				Help: "Total number of pipeline executions by outcome",
			},
			[]string{"pipeline", "outcome"},
		),

		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stepflow_pipeline_duration_seconds",
				Help:    "Pipeline execution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pipeline"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stepflow_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_config_reloads_total",
				Help: "Total number of pipeline configuration reload attempts by status",
			},
			[]string{"status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.executionsTotal,
		m.executionDuration,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.configReloads,
	)

	return m
}

// RecordExecution records one pipeline execution.
func (m *ServerMetrics) RecordExecution(pipeline, outcome string, duration time.Duration) {
	m.executionsTotal.WithLabelValues(pipeline, outcome).Inc()
	m.executionDuration.WithLabelValues(pipeline).Observe(duration.Seconds())
}

// RecordConfigReload records a pipeline configuration reload attempt.
func (m *ServerMetrics) RecordConfigReload(status string) {
	m.configReloads.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *ServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency for every wrapped handler.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		m.httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration.Seconds())
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
