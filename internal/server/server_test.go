package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"vlog-platform/internal/domain"
)

func newTestServer(checks map[string]Check) *echo.Echo {
	reg := prometheus.NewRegistry()
	return New(Options{Service: "test", Registerer: reg, Gatherer: reg, Checks: checks, Logger: log.New()})
}

func TestHealthz(t *testing.T) {
	e := newTestServer(nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadyzReportsFailingCheck(t *testing.T) {
	e := newTestServer(map[string]Check{
		"redis":    func(context.Context) error { return nil },
		"consumer": func(context.Context) error { return errors.New("connecting") },
	})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"consumer":"connecting"`) || !strings.Contains(rec.Body.String(), `"redis":"ok"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestReadyzAllOK(t *testing.T) {
	e := newTestServer(map[string]Check{"redis": func(context.Context) error { return nil }})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpointServesRequestCounters(t *testing.T) {
	e := newTestServer(nil)
	e.GET("/api/ping", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/ping", nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "test_requests_total") {
		t.Fatalf("expected request counter in metrics output")
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	e := echo.New()
	var v struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","extra":1}`))
	if err := Decode(e.NewContext(req, httptest.NewRecorder()), &v); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	if err := Decode(e.NewContext(req, httptest.NewRecorder()), &v); err != nil || v.Name != "x" {
		t.Fatalf("decode: %v %#v", err, v)
	}
}

func TestCommittedMarksDelayedSync(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	if err := Committed(c, http.StatusCreated, map[string]string{"id": "c1"}, fmt.Errorf("%w: down", domain.ErrDegradedSync)); err != nil {
		t.Fatalf("committed: %v", err)
	}
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"syncDelayed":true`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Sync-Delayed") != "true" {
		t.Fatalf("expected sync header")
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("x: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", domain.ErrCycle), http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrConcurrencyConflict), http.StatusConflict},
		{fmt.Errorf("x: %w", domain.ErrForbidden), http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		e := echo.New()
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		_ = Error(c, tt.err)
		if rec.Code != tt.code {
			t.Fatalf("Error(%v) = %d, want %d", tt.err, rec.Code, tt.code)
		}
	}
}
