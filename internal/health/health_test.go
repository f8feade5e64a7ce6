package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gustycube/hostfetch/internal/logging"
	"github.com/gustycube/hostfetch/internal/rate"
)

type staticChecker Status

func (s staticChecker) Check(ctx context.Context) Check {
	return Check{Status: Status(s), LastChecked: time.Now()}
}

func TestBucketChecker(t *testing.T) {
	tests := []struct {
		name      string
		stats     []rate.Stats
		threshold int
		want      Status
	}{
		{"no hosts", nil, 10, StatusHealthy},
		{"quiet", []rate.Stats{{Host: "a", QueuedHi: 2}}, 10, StatusHealthy},
		{"cooling down", []rate.Stats{{Host: "a", BlockedUntil: time.Now().Add(time.Second)}}, 10, StatusDegraded},
		{"backlog", []rate.Stats{{Host: "a", QueuedHi: 6}, {Host: "b", QueuedLo: 6}}, 10, StatusDegraded},
		{"threshold disabled", []rate.Stats{{Host: "a", QueuedLo: 1000}}, 0, StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewBucketChecker(func() []rate.Stats { return tt.stats }, tt.threshold)
			got := c.Check(context.Background())
			if got.Status != tt.want {
				t.Errorf("got %s (%s), want %s", got.Status, got.Message, tt.want)
			}
		})
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]Status
		wantStatus Status
		wantCode   int
	}{
		{"all healthy", map[string]Status{"a": StatusHealthy}, StatusHealthy, http.StatusOK},
		{"degraded", map[string]Status{"a": StatusHealthy, "b": StatusDegraded}, StatusDegraded, http.StatusOK},
		{"unhealthy wins", map[string]Status{"a": StatusDegraded, "b": StatusUnhealthy}, StatusUnhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(logging.Nop())
			for name, s := range tt.checks {
				h.RegisterChecker(name, staticChecker(s))
			}
			h.SetMetadata("version", "test")

			rec := httptest.NewRecorder()
			h.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("expected code %d, got %d", tt.wantCode, rec.Code)
			}
			var resp Response
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("expected %s, got %s", tt.wantStatus, resp.Status)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Errorf("expected %d checks, got %d", len(tt.checks), len(resp.Checks))
			}
			if resp.Metadata["version"] != "test" {
				t.Errorf("expected metadata to be echoed, got %v", resp.Metadata)
			}
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	h := NewHandler(logging.Nop())

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before ready, got %d", rec.Code)
	}

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 when ready, got %d", rec.Code)
	}
}

func TestLivenessHandler(t *testing.T) {
	h := NewHandler(logging.Nop())
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
