package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonwraymond/depguard/resilience"
)

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLivenessHandler(t *testing.T) {
	rec := serve(LivenessHandler(), "/healthz")

	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("Body = %v, want 'OK'", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/plain" {
		t.Errorf("Content-Type = %v, want 'text/plain'", rec.Header().Get("Content-Type"))
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		result   Result
		wantCode int
		wantBody string
	}{
		{"healthy", Healthy("ok"), http.StatusOK, "OK"},
		{"degraded", Degraded("slow"), http.StatusOK, "DEGRADED"},
		{"unhealthy", Unhealthy("down", nil), http.StatusServiceUnavailable, "UNHEALTHY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator()
			agg.Register("test", NewCheckerFunc("test", func(ctx context.Context) Result {
				return tt.result
			}))

			rec := serve(ReadinessHandler(agg), "/readyz")
			if rec.Code != tt.wantCode {
				t.Errorf("Status = %d, want %d", rec.Code, tt.wantCode)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("Body = %v, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestDetailedHandler_Timeout(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Timeout: 50 * time.Millisecond})
	agg.Register("slow", NewCheckerFunc("slow", func(ctx context.Context) Result {
		time.Sleep(200 * time.Millisecond)
		return Healthy("ok")
	}))

	rec := serve(DetailedHandler(agg), "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want %d for timed out check", rec.Code, http.StatusServiceUnavailable)
	}

	var response HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.Status != "unhealthy" {
		t.Errorf("Response.Status = %v, want 'unhealthy'", response.Status)
	}
	if response.Checks["slow"].Error != ErrCheckTimeout.Error() {
		t.Errorf("Checks[slow].Error = %q, want %q", response.Checks["slow"].Error, ErrCheckTimeout.Error())
	}
}

func TestDependenciesHandler(t *testing.T) {
	p := resilience.DefaultPolicy()
	p.FailureThreshold = 1
	reg := newTestRegistry(t, p)
	r := NewReporter(reg)

	_, _ = reg.Get("database")
	pay, _ := reg.Get("payment-service")
	pay.Breaker().OnFailure()

	rec := serve(DependenciesHandler(r), "/health/dependencies")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want %d with an open circuit", rec.Code, http.StatusServiceUnavailable)
	}

	var body struct {
		Status       string `json:"status"`
		Dependencies []struct {
			Dependency   string `json:"dependency"`
			CircuitState string `json:"circuit_state"`
			Status       string `json:"status"`
			FailureCount int    `json:"failure_count"`
		} `json:"dependencies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if body.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", body.Status)
	}
	if len(body.Dependencies) != 2 {
		t.Fatalf("len(dependencies) = %d, want 2", len(body.Dependencies))
	}
	db, ps := body.Dependencies[0], body.Dependencies[1]
	if db.Dependency != "database" || db.Status != "healthy" || db.CircuitState != "closed" {
		t.Errorf("database = %+v, want healthy closed", db)
	}
	if ps.Dependency != "payment-service" || ps.Status != "unhealthy" || ps.CircuitState != "open" || ps.FailureCount != 1 {
		t.Errorf("payment-service = %+v, want unhealthy open with 1 failure", ps)
	}
}

func TestRegisterHandlers(t *testing.T) {
	reg := newTestRegistry(t, resilience.DefaultPolicy())
	_, _ = reg.Get("database")
	r := NewReporter(reg)

	agg := NewAggregator()
	agg.Register("database", r.Checker("database"))

	mux := http.NewServeMux()
	RegisterHandlers(mux, agg, r)

	for _, path := range []string{"/healthz", "/readyz", "/health", "/health/dependencies", "/health/dependencies/database"} {
		if rec := serve(mux, path); rec.Code != http.StatusOK {
			t.Errorf("%s Status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}

	rec := serve(mux, "/health/dependencies/unknown")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown dependency Status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	var one map[string]any
	if err := json.Unmarshal(serve(mux, "/health/dependencies/database").Body.Bytes(), &one); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if one["dependency"] != "database" || one["circuit_state"] != "closed" || one["status"] != "healthy" {
		t.Errorf("dependency response = %v, want database closed healthy", one)
	}
	if _, ok := one["last_failure"]; ok {
		t.Error("last_failure should be omitted before any failure")
	}
}
