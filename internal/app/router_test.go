package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/cagedesk/cagedesk/internal/observability"
	"github.com/cagedesk/cagedesk/internal/shared"
	"github.com/cagedesk/cagedesk/jobs"
)

func TestRouterHealthz(t *testing.T) {
	router := NewRouter(RouterParams{Logger: slog.Default(), Config: &Config{}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouterExposesMetricsEndpoint(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{Logger: slog.Default(), Config: &Config{}, Metrics: metrics})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterMountsJobsRoutes(t *testing.T) {
	jobsHandler := jobs.NewHandler(nil, nil, slog.Default())
	router := NewRouter(RouterParams{Logger: slog.Default(), Config: &Config{}, JobsHandler: jobsHandler})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rec.Body.String())
}

func TestActorMiddlewarePropagatesHeader(t *testing.T) {
	cfg := &Config{ActorHeader: "X-Actor-ID", RateLimitPerMinute: 1000}
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: slog.Default(), Config: cfg}) {
		r.Use(mw)
	}
	r.Get("/whoami", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, "%d", shared.ActorFromContext(req.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Actor-ID", "42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, "42", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Actor-ID", "not-a-number")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, "0", rec.Body.String())
}
