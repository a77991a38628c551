// Package server exposes the governor's health, advisory and failure history
// over HTTP, together with the policy-gated reset endpoint and Prometheus
// metrics.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/polisai/sentinel/internal/governance"
	"github.com/polisai/sentinel/internal/runtime"
	"github.com/polisai/sentinel/pkg/domain"
)

const maxResetBody = 64 << 10

// Controller is the slice of the runtime loop the admin API needs.
// *runtime.Loop satisfies it.
type Controller interface {
	Governor() *governance.Governor
	Failures() []domain.FailureEvent
	Stats() runtime.Stats
	Reset(ctx context.Context, req runtime.ResetRequest) (runtime.ResetResult, error)
}

// AuditStatus reports audit queue counters. *audit.Dispatcher satisfies it.
type AuditStatus interface {
	Pending() int64
	Written() uint64
	Stalls() uint64
}

// Options configures the admin server.
type Options struct {
	Address string
	// TLS enables HTTPS when non-nil.
	TLS *tls.Config
	// ResetRateLimit is the sustained reset request rate per second.
	ResetRateLimit float64
	ResetBurst     int
	Audit          AuditStatus
	Logger         *slog.Logger
	// ShutdownTimeout bounds graceful shutdown after the serve context ends.
	ShutdownTimeout time.Duration
}

// Server is the admin HTTP surface.
type Server struct {
	ctrl    Controller
	opts    Options
	logger  *slog.Logger
	metrics *Metrics
	limiter *rate.Limiter
	handler http.Handler
}

// ResetResponse is returned by a successful POST /v1/reset.
type ResetResponse struct {
	Mode          domain.RuntimeMode    `json:"mode"`
	Reason        string                `json:"reason"`
	ConfigApplied bool                  `json:"config_applied"`
	Transition    domain.ModeTransition `json:"transition"`
}

// FailuresResponse is returned by GET /v1/failures.
type FailuresResponse struct {
	Failures []domain.FailureEvent `json:"failures"`
	Count    int                   `json:"count"`
}

// New builds the server and its routes.
func New(ctrl Controller, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ResetRateLimit <= 0 {
		opts.ResetRateLimit = 1
	}
	if opts.ResetBurst <= 0 {
		opts.ResetBurst = 1
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		ctrl:    ctrl,
		opts:    opts,
		logger:  opts.Logger.With(slog.String("component", "admin")),
		metrics: NewMetrics(ctrl, opts.Audit),
		limiter: rate.NewLimiter(rate.Limit(opts.ResetRateLimit), opts.ResetBurst),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleLiveness)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/advisory", s.handleAdvisory)
	mux.HandleFunc("GET /v1/failures", s.handleFailures)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("POST /v1/reset", s.handleReset)
	mux.Handle("GET /metrics", s.metrics.Handler())

	s.handler = otelhttp.NewHandler(s.metrics.Middleware(mux), "sentinel.admin",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
	return s
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics returns the server's Prometheus collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// ListenAndServe listens on the configured address and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         s.opts.TLS,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Admin server starting", "addr", ln.Addr().String(), "tls", s.opts.TLS != nil)
		var err error
		if s.opts.TLS != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Failed to shut down admin server", "error", err)
		return err
	}
	s.logger.Info("Admin server stopped")
	return nil
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"mode":   s.ctrl.Governor().Mode(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Governor().Health())
}

func (s *Server) handleAdvisory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Governor().Advisory())
}

func (s *Server) handleFailures(w http.ResponseWriter, _ *http.Request) {
	failures := s.ctrl.Failures()
	if failures == nil {
		failures = []domain.FailureEvent{}
	}
	writeJSON(w, http.StatusOK, FailuresResponse{Failures: failures, Count: len(failures)})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Stats())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		s.metrics.RecordReset("rate_limited")
		s.writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "reset rate limit exceeded")
		return
	}

	var req runtime.ResetRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxResetBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.metrics.RecordReset("invalid")
		s.writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "invalid reset request body: "+err.Error())
		return
	}

	res, err := s.ctrl.Reset(r.Context(), req)
	switch {
	case errors.Is(err, domain.ErrResetDenied):
		s.metrics.RecordReset("denied")
		s.writeError(w, r, http.StatusForbidden, "RESET_DENIED", err.Error())
		return
	case err != nil:
		s.metrics.RecordReset("error")
		s.logger.Error("Reset failed", "error", err, "operator", req.Operator)
		s.writeError(w, r, http.StatusInternalServerError, "RESET_FAILED", "reset failed")
		return
	}

	s.metrics.RecordReset("approved")
	writeJSON(w, http.StatusOK, ResetResponse{
		Mode:          res.Transition.To,
		Reason:        res.Decision.Reason,
		ConfigApplied: res.ConfigApplied,
		Transition:    res.Transition,
	})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	resp := domain.ErrorResponse{Code: code, Message: message}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		resp.TraceID = sc.TraceID().String()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
