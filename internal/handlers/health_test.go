package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/services"
)

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)
	now := start.Add(45 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "2026.08.1",
			CommitSHA:   "4f9ac21",
			Environment: "production",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var body struct {
		Status      string `json:"status"`
		Version     string `json:"version"`
		CommitSHA   string `json:"commitSha"`
		Environment string `json:"environment"`
		Uptime      string `json:"uptime"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != domain.HealthStatusOK {
		t.Errorf("status = %q, want %q", body.Status, domain.HealthStatusOK)
	}
	if body.Version != "2026.08.1" {
		t.Errorf("version = %q, want 2026.08.1", body.Version)
	}
	if body.CommitSHA != "4f9ac21" {
		t.Errorf("commitSha = %q, want 4f9ac21", body.CommitSHA)
	}
	if body.Environment != "production" {
		t.Errorf("environment = %q, want production", body.Environment)
	}
	if body.Uptime != "45s" {
		t.Errorf("uptime = %q, want 45s", body.Uptime)
	}
}

func TestHealthHandlersReadyzSuccess(t *testing.T) {
	now := time.Date(2026, 2, 14, 9, 1, 0, 0, time.UTC)
	svc := &routerStubSystemService{
		report: services.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			Version:     "2026.08.1",
			CommitSHA:   "4f9ac21",
			Environment: "production",
			Uptime:      time.Minute,
			GeneratedAt: now,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: now},
				"daraja":    {Status: domain.HealthStatusOK, Latency: 80 * time.Millisecond, CheckedAt: now},
			},
		},
	}

	handlers := NewHealthHandlers(
		WithHealthSystemService(svc),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var body struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if body.Status != domain.HealthStatusOK {
		t.Errorf("status = %q, want %q", body.Status, domain.HealthStatusOK)
	}
	if len(body.Details) != 0 {
		t.Errorf("details = %v, want none", body.Details)
	}
	for _, name := range []string{"firestore", "daraja"} {
		if body.Checks[name].Status != domain.HealthStatusOK {
			t.Errorf("check %s status = %q, want %q", name, body.Checks[name].Status, domain.HealthStatusOK)
		}
	}
}

func TestHealthHandlersReadyzFailure(t *testing.T) {
	now := time.Date(2026, 2, 14, 9, 1, 0, 0, time.UTC)
	svc := &routerStubSystemService{
		report: services.SystemHealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.SystemHealthCheck{
				"pubsub": {Status: domain.HealthStatusDegraded, Error: "publish failed"},
			},
		},
	}

	handlers := NewHealthHandlers(
		WithHealthSystemService(svc),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}

	var body struct {
		Status  string   `json:"status"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if body.Status != domain.HealthStatusDegraded {
		t.Errorf("status = %q, want %q", body.Status, domain.HealthStatusDegraded)
	}
	if len(body.Details) != 1 || body.Details[0] != "pubsub: publish failed" {
		t.Errorf("details = %v, want [pubsub: publish failed]", body.Details)
	}
}

var _ services.SystemService = (*routerStubSystemService)(nil)
