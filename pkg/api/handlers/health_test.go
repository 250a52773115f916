package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Healthcheck(context.Context) error { return f.err }

func TestHealthHealthy(t *testing.T) {
	// No multiplexer client and no CLI on the host are both healthy
	// variants; only real failures flip the verdict.
	h := NewHealthHandler(fakePinger{}, nil, "claudeck-test-missing-cli")

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Healthy {
		t.Error("healthy = false, want true")
	}
	if got := resp.Checks["store"].Status; got != StatusOK {
		t.Errorf("store status = %q, want ok", got)
	}
	if got := resp.Checks["multiplexer"].Status; got != StatusNotInstalled {
		t.Errorf("multiplexer status = %q, want not-installed", got)
	}
	if got := resp.Checks["cli"].Status; got != StatusNotInstalled {
		t.Errorf("cli status = %q, want not-installed", got)
	}
}

func TestHealthStoreFailure(t *testing.T) {
	h := NewHealthHandler(fakePinger{err: errors.New("database is locked")}, nil, "claudeck-test-missing-cli")

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Healthy {
		t.Error("healthy = true, want false")
	}
	if got := resp.Checks["store"].Status; got != StatusError {
		t.Errorf("store status = %q, want error", got)
	}
}
