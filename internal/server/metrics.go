package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exposed on /metrics. Governor
// state is read at scrape time, so the control loop never touches the
// registry.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	resetRequests       *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics registers the admin and governor collectors for ctrl. audit may
// be nil when the audit trail is disabled.
func NewMetrics(ctrl Controller, audit AuditStatus) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_admin_requests_total",
				Help: "Total number of admin API requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_admin_request_duration_seconds",
				Help:    "Admin API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		resetRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_reset_requests_total",
				Help: "Reset requests by outcome",
			},
			[]string{"outcome"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.resetRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.registerGovernor(ctrl)
	if audit != nil {
		m.registerAudit(audit)
	}
	return m
}

func (m *Metrics) registerGovernor(ctrl Controller) {
	gauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
	}
	gov := ctrl.Governor()

	m.registry.MustRegister(
		gauge("sentinel_mode_severity", "Runtime mode severity (0=normal, 3=internal_fault)", func() float64 {
			return float64(gov.Mode().Severity())
		}),
		gauge("sentinel_advisory_scale", "Command scale currently advised", func() float64 {
			return gov.Advisory().Scale
		}),
		gauge("sentinel_risk_score", "Fused risk score in [0,1]", func() float64 {
			return gov.Health().RiskScore
		}),
		gauge("sentinel_covariance_trace", "Trace of the estimator covariance", func() float64 {
			return gov.Snapshot().CovarianceTrace
		}),
		gauge("sentinel_redundancy_ema", "Smoothed redundancy divergence", func() float64 {
			return gov.Snapshot().RedundancyEMA
		}),
		gauge("sentinel_energy", "Stability energy proxy of the last tick", func() float64 {
			return gov.Snapshot().Energy
		}),
		gauge("sentinel_last_step_duration_seconds", "Measured duration of the last tick pipeline", func() float64 {
			return gov.Snapshot().LastStepDuration.Seconds()
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "sentinel_ticks_total",
			Help: "Governed ticks since start",
		}, func() float64 {
			return float64(gov.Snapshot().Tick)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "sentinel_rejected_samples_total",
			Help: "Samples rejected as malformed",
		}, func() float64 {
			return float64(ctrl.Stats().Rejected)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "sentinel_envelope_violations_total",
			Help: "Ticks whose raw command exceeded the actuator torque limit",
		}, func() float64 {
			return float64(ctrl.Stats().EnvelopeViolations)
		}),
		gauge("sentinel_failure_events", "Failure events currently retained", func() float64 {
			return float64(ctrl.Stats().Failures)
		}),
	)
}

func (m *Metrics) registerAudit(audit AuditStatus) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sentinel_audit_pending",
			Help: "Sealed audit records not yet accepted by the sink",
		}, func() float64 { return float64(audit.Pending()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "sentinel_audit_written_total",
			Help: "Audit records accepted by the sink",
		}, func() float64 { return float64(audit.Written()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "sentinel_audit_stalls_total",
			Help: "Submissions that waited for audit queue space",
		}, func() float64 { return float64(audit.Stalls()) }),
	)
}

// RecordHTTPRequest records an admin request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordReset records the outcome of a reset request.
func (m *Metrics) RecordReset(outcome string) {
	m.resetRequests.WithLabelValues(outcome).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency per endpoint.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		m.RecordHTTPRequest(r.Method, endpointName(r.URL.Path), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// responseWriter captures the status code written by a handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func endpointName(path string) string {
	switch path {
	case "/healthz":
		return "healthz"
	case "/v1/health":
		return "health"
	case "/v1/advisory":
		return "advisory"
	case "/v1/failures":
		return "failures"
	case "/v1/stats":
		return "stats"
	case "/v1/reset":
		return "reset"
	case "/metrics":
		return "metrics"
	default:
		return "unknown"
	}
}
