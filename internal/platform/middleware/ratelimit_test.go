package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func serveFrom(t *testing.T, h echo.HandlerFunc, ip string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/medicines", nil)
	req.RemoteAddr = ip + ":4321"
	rec := httptest.NewRecorder()
	return rec, h(echo.New().NewContext(req, rec))
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestRateLimit_WithinBurst(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(okHandler)

	for i := 0; i < 5; i++ {
		rec, err := serveFrom(t, h, "10.0.0.1")
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit 10, got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(okHandler)

	for i := 0; i < 2; i++ {
		if _, err := serveFrom(t, h, "10.0.0.2"); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
	}

	rec, err := serveFrom(t, h, "10.0.0.2")
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After 1, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimit_PerClient(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(okHandler)

	if _, err := serveFrom(t, h, "10.0.0.3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := serveFrom(t, h, "10.0.0.3"); err == nil {
		t.Fatal("expected second request from same client to be limited")
	}
	if _, err := serveFrom(t, h, "10.0.0.4"); err != nil {
		t.Fatalf("other client should not be limited: %v", err)
	}
}

func TestLimiterStore_EvictsIdleClients(t *testing.T) {
	store := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.get("a")
	store.get("b")
	if store.size() != 2 {
		t.Fatalf("expected 2 clients, got %d", store.size())
	}

	now = now.Add(2 * time.Minute)
	store.get("b")
	if store.size() != 1 {
		t.Errorf("expected idle client evicted, got %d", store.size())
	}
}
