package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/sentinel/internal/governance"
	"github.com/polisai/sentinel/internal/runtime"
	"github.com/polisai/sentinel/pkg/audit"
	"github.com/polisai/sentinel/pkg/clock"
	"github.com/polisai/sentinel/pkg/domain"
	"github.com/polisai/sentinel/pkg/logging"
	"github.com/polisai/sentinel/pkg/plant"
	"github.com/polisai/sentinel/pkg/policy"
)

func newTestLoop(t *testing.T, authorizer policy.Authorizer) (*runtime.Loop, *audit.Dispatcher) {
	t.Helper()
	fake := clock.Fake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	gov, err := governance.New(governance.DefaultConfig(2), governance.WithClock(fake))
	require.NoError(t, err)

	params := plant.DefaultParams(2)
	params.SpikeProbability = 0
	sim, err := plant.New(params)
	require.NoError(t, err)

	d := audit.NewDispatcher(audit.NewChain(), audit.NewMemorySink(), audit.DispatcherConfig{Logger: logging.Nop()})
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	loop, err := runtime.New(gov, sim, sim, d, runtime.Options{
		Clock:      fake,
		Logger:     logging.Nop(),
		Authorizer: authorizer,
	})
	require.NoError(t, err)

	_, err = loop.Drive(context.Background(), 5)
	require.NoError(t, err)
	return loop, d
}

func newTestServer(t *testing.T, opts Options) (*Server, *runtime.Loop) {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.EngineOptions{Logger: logging.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close(context.Background()) })

	loop, d := newTestLoop(t, engine)
	opts.Logger = logging.Nop()
	opts.Audit = d
	return New(loop, opts), loop
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestLiveness(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "normal", body["mode"])
}

func TestHealthAndAdvisory(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	health := decode[domain.RobotHealth](t, rec)
	assert.Equal(t, uint64(5), health.Tick)
	assert.Equal(t, domain.ModeNormal, health.Mode)
	assert.Equal(t, governance.DefaultIntegrityTag, health.IntegrityTag)
	assert.Len(t, health.Estimates.Theta, 2)

	rec = do(t, s, http.MethodGet, "/v1/advisory", "")
	require.Equal(t, http.StatusOK, rec.Code)
	adv := decode[domain.HealthAdvisory](t, rec)
	assert.Equal(t, domain.ModeNormal, adv.Mode)
	assert.Greater(t, adv.Scale, 0.0)
}

func TestFailuresEmptyList(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	rec := do(t, s, http.MethodGet, "/v1/failures", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"failures":[]`)
	body := decode[FailuresResponse](t, rec)
	assert.Zero(t, body.Count)
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	rec := do(t, s, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[runtime.Stats](t, rec)
	assert.Equal(t, uint64(5), stats.Ticks)
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	rec := do(t, s, http.MethodGet, "/v1/reset", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestResetRequest(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{name: "malformed body", body: `{"operator":`, wantCode: http.StatusBadRequest, wantErr: "INVALID_REQUEST"},
		{name: "unknown field", body: `{"operator":"a","reason":"b","force":true}`, wantCode: http.StatusBadRequest, wantErr: "INVALID_REQUEST"},
		{name: "missing operator", body: `{"reason":"maintenance"}`, wantCode: http.StatusForbidden, wantErr: "RESET_DENIED"},
		{name: "missing reason", body: `{"operator":"alice"}`, wantCode: http.StatusForbidden, wantErr: "RESET_DENIED"},
		{name: "approved", body: `{"operator":"alice","reason":"maintenance"}`, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, loop := newTestServer(t, Options{ResetRateLimit: 100, ResetBurst: 10})
			rec := do(t, s, http.MethodPost, "/v1/reset", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			if tt.wantErr != "" {
				errResp := decode[domain.ErrorResponse](t, rec)
				assert.Equal(t, tt.wantErr, errResp.Code)
				assert.Zero(t, loop.Stats().Resets)
				return
			}
			resp := decode[ResetResponse](t, rec)
			assert.Equal(t, domain.ModeNormal, resp.Mode)
			assert.Equal(t, "reset approved", resp.Reason)
			assert.True(t, resp.Transition.Manual)
			assert.Equal(t, uint64(1), loop.Stats().Resets)
		})
	}
}

func TestResetIsRateLimited(t *testing.T) {
	s, _ := newTestServer(t, Options{ResetRateLimit: 0.001, ResetBurst: 1})
	body := `{"operator":"alice","reason":"maintenance"}`

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/reset", body).Code)

	rec := do(t, s, http.MethodPost, "/v1/reset", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decode[domain.ErrorResponse](t, rec).Code)
}

func TestMetricsExposeGovernorState(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	do(t, s, http.MethodGet, "/v1/health", "")

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	text := rec.Body.String()
	for _, name := range []string{
		"sentinel_mode_severity 0",
		"sentinel_ticks_total 5",
		"sentinel_envelope_violations_total 0",
		"sentinel_advisory_scale",
		"sentinel_audit_written_total",
		`sentinel_admin_requests_total{endpoint="health",method="GET",status_code="200"} 1`,
	} {
		assert.Contains(t, text, name)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
