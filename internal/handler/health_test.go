package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// mockHealthChecker stands in for the pgx pool and redis client pings.
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) Ping(ctx context.Context) error {
	return m.err
}

func TestHealthHandler_Healthz(t *testing.T) {
	h := NewHealthHandler(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var response HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "ok" {
		t.Errorf("status = %q, want %q", response.Status, "ok")
	}

	// Liveness must not depend on postgres or redis being reachable.
	if len(response.Checks) != 0 {
		t.Errorf("healthz reported dependency checks %v, want none", response.Checks)
	}
}

func TestHealthHandler_Readyz_AllHealthy(t *testing.T) {
	db := &mockHealthChecker{}
	cache := &mockHealthChecker{}
	h := NewHealthHandler(db, cache)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var response HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "ok" {
		t.Errorf("status = %q, want %q", response.Status, "ok")
	}

	if response.Checks["postgres"] != "ok" {
		t.Errorf("postgres check = %q, want %q", response.Checks["postgres"], "ok")
	}

	if response.Checks["redis"] != "ok" {
		t.Errorf("redis check = %q, want %q", response.Checks["redis"], "ok")
	}
}

func TestHealthHandler_Readyz_DatabaseUnhealthy(t *testing.T) {
	db := &mockHealthChecker{err: errors.New("connection refused")}
	cache := &mockHealthChecker{}
	h := NewHealthHandler(db, cache)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var response HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "unhealthy" {
		t.Errorf("status = %q, want %q", response.Status, "unhealthy")
	}

	if response.Checks["postgres"] != "error: connection refused" {
		t.Errorf("postgres check = %q, want the ping error", response.Checks["postgres"])
	}
}

func TestHealthHandler_Readyz_CacheUnhealthy(t *testing.T) {
	// The charge path stays up without redis, but the usage stream does
	// not, so a redis outage still takes the pod out of rotation.
	db := &mockHealthChecker{}
	cache := &mockHealthChecker{err: errors.New("stream unavailable")}
	h := NewHealthHandler(db, cache)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var response HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Checks["postgres"] != "ok" {
		t.Errorf("postgres check = %q, want %q", response.Checks["postgres"], "ok")
	}

	if response.Checks["redis"] != "error: stream unavailable" {
		t.Errorf("redis check = %q, want the ping error", response.Checks["redis"])
	}
}

func TestHealthHandler_Readyz_NoDependencies(t *testing.T) {
	h := NewHealthHandler(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var response HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Checks["postgres"] != "not configured" {
		t.Errorf("postgres check = %q, want %q", response.Checks["postgres"], "not configured")
	}
}
