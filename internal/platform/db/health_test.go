package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func serveHealth(t *testing.T, p Pinger, stats func() *PoolStats) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)
	if err := HealthHandler(p, stats)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	stats := func() *PoolStats { return &PoolStats{TotalConns: 2, MaxConns: 10, Healthy: true} }
	rec, body := serveHealth(t, fakePinger{}, stats)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	pool, ok := body["pool"].(map[string]interface{})
	if !ok || pool["max_conns"].(float64) != 10 {
		t.Errorf("unexpected pool stats: %v", body["pool"])
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	stats := func() *PoolStats { return &PoolStats{TotalConns: 1, Healthy: true} }
	rec, body := serveHealth(t, fakePinger{err: errors.New("connection refused")}, stats)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body["status"] != "unhealthy" || body["error"] != "connection refused" {
		t.Errorf("unexpected body: %v", body)
	}
	if pool := body["pool"].(map[string]interface{}); pool["healthy"] != false {
		t.Error("expected pool marked unhealthy")
	}
}

func TestHealthHandler_NoStats(t *testing.T) {
	_, body := serveHealth(t, fakePinger{}, nil)
	if _, ok := body["pool"]; ok {
		t.Error("expected no pool section without stats")
	}
}
