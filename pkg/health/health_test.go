package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// mockChecker is a test implementation of Checker
type mockChecker struct {
	checkFunc func(ctx context.Context) error
}

func (m *mockChecker) Check(ctx context.Context) error {
	if m.checkFunc != nil {
		return m.checkFunc(ctx)
	}
	return nil
}

func failing(msg string) Checker {
	return CheckerFunc(func(ctx context.Context) error { return fmt.Errorf("%s", msg) })
}

func TestNew(t *testing.T) {
	h := New()
	if h.checkTimeout != 5*time.Second {
		t.Errorf("checkTimeout = %v, want 5s", h.checkTimeout)
	}
	if h.cacheTTL != time.Second {
		t.Errorf("cacheTTL = %v, want 1s", h.cacheTTL)
	}
}

func TestCheckNoCheckers(t *testing.T) {
	result := New().Check(context.Background())
	if result.Status != StatusHealthy {
		t.Errorf("status = %q, want healthy", result.Status)
	}
	if len(result.Checks) != 0 {
		t.Errorf("expected no checks, got %d", len(result.Checks))
	}
}

func TestCheckStatuses(t *testing.T) {
	tests := []struct {
		name     string
		required Checker
		optional Checker
		want     string
		ready    bool
	}{
		{"all ok", &mockChecker{}, &mockChecker{}, StatusHealthy, true},
		{"optional down", &mockChecker{}, failing("search unreachable"), StatusDegraded, true},
		{"required down", failing("redis down"), &mockChecker{}, StatusUnhealthy, false},
		{"both down", failing("redis down"), failing("search unreachable"), StatusUnhealthy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.RegisterChecker("queue", tt.required)
			h.RegisterOptional("search", tt.optional)

			result := h.Check(context.Background())
			if result.Status != tt.want {
				t.Errorf("status = %q, want %q", result.Status, tt.want)
			}
			if result.Ready() != tt.ready {
				t.Errorf("Ready() = %v, want %v", result.Ready(), tt.ready)
			}
			if !result.Checks["search"].Optional {
				t.Error("search check should be marked optional")
			}
		})
	}
}

func TestCheckErrorMessage(t *testing.T) {
	h := New()
	h.RegisterChecker("database", failing("connection refused"))

	check := h.Check(context.Background()).Checks["database"]
	if check.Status != "error" || check.Message != "connection refused" {
		t.Errorf("unexpected check result: %+v", check)
	}
}

func TestRegisterReplacesAndUnregister(t *testing.T) {
	h := New()
	h.RegisterChecker("cache", failing("down"))
	h.RegisterChecker("cache", &mockChecker{})

	if got := h.Check(context.Background()).Status; got != StatusHealthy {
		t.Errorf("status after replace = %q, want healthy", got)
	}

	if !h.UnregisterChecker("cache") {
		t.Error("UnregisterChecker() = false, want true")
	}
	if h.UnregisterChecker("cache") {
		t.Error("second UnregisterChecker() = true, want false")
	}
}

func TestCheckCaching(t *testing.T) {
	h := NewWithConfig(time.Second, 50*time.Millisecond)

	var calls int32
	h.RegisterChecker("test", CheckerFunc(func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	h.Check(context.Background())
	h.Check(context.Background())
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 checker call (cached), got %d", got)
	}

	time.Sleep(80 * time.Millisecond)
	h.Check(context.Background())
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 checker calls after expiry, got %d", got)
	}

	h.ClearCache()
	h.Check(context.Background())
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 checker calls after ClearCache, got %d", got)
	}
}

func TestCheckTimeout(t *testing.T) {
	h := NewWithConfig(50*time.Millisecond, time.Second)
	h.RegisterChecker("slow", CheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	result := h.Check(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("check took %v, expected ~50ms", elapsed)
	}
	if result.Status != StatusUnhealthy {
		t.Errorf("status = %q, want unhealthy", result.Status)
	}
}

func TestCheckComponent(t *testing.T) {
	h := New()
	h.RegisterChecker("queue", &mockChecker{})
	h.RegisterOptional("search", failing("503"))

	if err := h.CheckComponent(context.Background(), "queue"); err != nil {
		t.Errorf("queue: unexpected error %v", err)
	}
	if err := h.CheckComponent(context.Background(), "search"); err == nil {
		t.Error("search: expected error")
	}
	if err := h.CheckComponent(context.Background(), "missing"); err == nil {
		t.Error("missing: expected error")
	}
}

func TestIsHealthy(t *testing.T) {
	h := New()
	h.RegisterOptional("cache", failing("breaker open"))
	if !h.IsHealthy(context.Background()) {
		t.Error("degraded service should still be healthy for readiness")
	}
}

func TestHandlers(t *testing.T) {
	h := New()
	h.RegisterChecker("queue", &mockChecker{})
	h.RegisterOptional("search", failing("unreachable"))

	mux := http.NewServeMux()
	h.Mount(mux)

	tests := []struct {
		path string
		code int
	}{
		{"/health/live", http.StatusOK},
		{"/health/ready", http.StatusOK},
		{"/health", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var result HealthResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Status != StatusDegraded {
		t.Errorf("status = %q, want degraded", result.Status)
	}
}

func TestReadinessHandlerUnhealthy(t *testing.T) {
	h := New()
	h.RegisterChecker("database", failing("down"))

	rec := httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
