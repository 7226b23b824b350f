package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWindowLimiter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	limiter := newWindowLimiter(2, time.Minute, clock)

	if !limiter.Allow("user-1") || !limiter.Allow("user-1") {
		t.Fatal("expected first two requests to pass")
	}
	if limiter.Allow("user-1") {
		t.Fatal("expected third request to be rejected")
	}
	if !limiter.Allow("user-2") {
		t.Fatal("expected separate key to have its own budget")
	}

	now = now.Add(61 * time.Second)
	if !limiter.Allow("user-1") {
		t.Fatal("expected budget to reset after the window")
	}
}

func TestNewWindowLimiterDisabled(t *testing.T) {
	if limiter := newWindowLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatal("expected nil limiter for non-positive limit")
	}
}

func TestWindowLimiterSweepsStaleBuckets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	limiter := newWindowLimiter(5, time.Minute, clock).(*windowLimiter)

	limiter.Allow("user-1")
	limiter.Allow("user-2")

	now = now.Add(2 * time.Minute)
	limiter.Allow("user-3")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.buckets) != 1 {
		t.Fatalf("buckets = %d, want 1 after sweep", len(limiter.buckets))
	}
	if limiter.buckets["user-3"] == nil {
		t.Fatal("expected active bucket to survive the sweep")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimitMiddleware(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRequest(http.MethodGet, "/orders", nil)
	first.RemoteAddr = "10.0.0.1:50000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d, want 204", rec.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/orders", nil)
	second.RemoteAddr = "10.0.0.1:50001"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}

	other := httptest.NewRequest(http.MethodGet, "/orders", nil)
	other.RemoteAddr = "10.0.0.2:50000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("other client status = %d, want 204", rec.Code)
	}
}
