package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/server/handler"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type staticStatus struct{ s handler.Status }

func (s staticStatus) Status() handler.Status { return s.s }

type denyLimiter struct{ allow bool }

func (l denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allow, nil
}

func newTestServer(checks map[string]handler.Check, apiKey string) *Server {
	status := staticStatus{handler.Status{
		Mode:      "arb",
		Coin:      "BTC",
		Connected: true,
		Market:    &handler.MarketStatus{Slug: "btc-updown-15m-1767225600"},
	}}
	return NewServer(Config{Addr: "127.0.0.1:0", APIKey: apiKey}, Handlers{
		Health: handler.NewHealthHandler(checks, testLogger),
		Status: handler.NewStatusHandler(status),
	}, nil, testLogger)
}

func TestHealth_OK(t *testing.T) {
	srv := newTestServer(map[string]handler.Check{
		"redis": func(context.Context) error { return nil },
	}, "secret")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"redis": "ok"}, body["dependencies"])
}

func TestHealth_Degraded(t *testing.T) {
	srv := newTestServer(map[string]handler.Check{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestStatus_RequiresKey(t *testing.T) {
	srv := newTestServer(nil, "secret")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var st handler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "arb", st.Mode)
	require.NotNil(t, st.Market)
	assert.Equal(t, "btc-updown-15m-1767225600", st.Market.Slug)
}

func TestRateLimit(t *testing.T) {
	srv := NewServer(Config{Addr: "127.0.0.1:0", RateLimit: 1}, Handlers{
		Health: handler.NewHealthHandler(nil, testLogger),
		Status: handler.NewStatusHandler(staticStatus{}),
	}, denyLimiter{allow: false}, testLogger)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRun_StopsOnCancel(t *testing.T) {
	srv := newTestServer(nil, "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}
