package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/depguard/auth"
	"github.com/jonwraymond/depguard/health"
	"github.com/jonwraymond/depguard/observe"
	"github.com/jonwraymond/depguard/resilience"
)

// DefaultAuditLimit is the page size of GET /admin/audit without ?limit.
const DefaultAuditLimit = 50

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// Registry is the registry whose dependencies are listed and reset. Required.
	Registry *resilience.Registry

	// Reporter derives snapshots. Default: health.NewReporter(Registry).
	Reporter *health.Reporter

	// Audit receives one entry per reset. Default: NewMemoryAuditStore(0).
	Audit AuditStore

	// Guard authenticates and authorizes every route. Required.
	Guard *auth.Middleware

	// Logger receives reset and audit events.
	Logger observe.Logger

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// Handler serves the admin API.
type Handler struct {
	registry *resilience.Registry
	reporter *health.Reporter
	audit    AuditStore
	logger   observe.Logger
	now      func() time.Time
	mux      *http.ServeMux
}

// NewHandler creates the admin API handler.
func NewHandler(config HandlerConfig) (*Handler, error) {
	if config.Registry == nil {
		return nil, errors.New("admin: registry is required")
	}
	if config.Guard == nil {
		return nil, errors.New("admin: guard is required")
	}
	if config.Reporter == nil {
		config.Reporter = health.NewReporter(config.Registry)
	}
	if config.Audit == nil {
		config.Audit = NewMemoryAuditStore(0)
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	h := &Handler{
		registry: config.Registry,
		reporter: config.Reporter,
		audit:    config.Audit,
		logger:   config.Logger.With(observe.Field{Key: "component", Value: "admin"}),
		now:      config.Now,
		mux:      http.NewServeMux(),
	}

	g := config.Guard
	h.mux.Handle("GET /admin/dependencies",
		g.Require(auth.ActionRead, auth.Resource("dependencies"), http.HandlerFunc(h.listDependencies)))
	h.mux.Handle("GET /admin/dependencies/{key}",
		g.Require(auth.ActionRead, dependencyResource, http.HandlerFunc(h.getDependency)))
	h.mux.Handle("POST /admin/dependencies/{key}/reset",
		g.Require(auth.ActionReset, dependencyResource, http.HandlerFunc(h.resetDependency)))
	h.mux.Handle("GET /admin/audit",
		g.Require(auth.ActionRead, auth.Resource("audit"), http.HandlerFunc(h.listAudit)))
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func dependencyResource(r *http.Request) string {
	return "dependencies/" + r.PathValue("key")
}

// PolicyView is the JSON form of a resilience.Policy.
type PolicyView struct {
	MaxAttempts           int     `json:"max_attempts"`
	PerAttemptTimeoutMs   int64   `json:"timeout_ms"`
	PoolAcquireDeadlineMs int64   `json:"pool_acquire_timeout_ms"`
	BackoffBaseMs         int64   `json:"backoff_base_ms"`
	BackoffMultiplier     float64 `json:"backoff_multiplier"`
	JitterMaxMs           int64   `json:"jitter_max_ms"`
	FailureThreshold      int     `json:"failure_threshold"`
	RecoveryTimeoutMs     int64   `json:"recovery_timeout_ms"`
	PoolCapacity          int     `json:"pool_capacity"`
	RateLimit             float64 `json:"rate_limit_per_sec,omitempty"`
	RateBurst             int     `json:"rate_limit_burst,omitempty"`
}

func policyView(p resilience.Policy) PolicyView {
	return PolicyView{
		MaxAttempts:           p.MaxAttempts,
		PerAttemptTimeoutMs:   p.PerAttemptTimeout.Milliseconds(),
		PoolAcquireDeadlineMs: p.PoolAcquireDeadline.Milliseconds(),
		BackoffBaseMs:         p.BackoffBase.Milliseconds(),
		BackoffMultiplier:     p.BackoffMultiplier,
		JitterMaxMs:           p.JitterMax.Milliseconds(),
		FailureThreshold:      p.FailureThreshold,
		RecoveryTimeoutMs:     p.RecoveryTimeout.Milliseconds(),
		PoolCapacity:          p.PoolCapacity,
		RateLimit:             p.RateLimit,
		RateBurst:             p.RateBurst,
	}
}

// DependencyView is one dependency as served by the admin API.
type DependencyView struct {
	health.DependencyResponse
	Policy PolicyView `json:"policy"`
}

func (h *Handler) view(s health.HealthSnapshot) DependencyView {
	return DependencyView{
		DependencyResponse: health.DependencyResponse{HealthSnapshot: s, Status: h.reporter.Status(s)},
		Policy:             policyView(h.registry.PolicyFor(s.Dependency)),
	}
}

func (h *Handler) listDependencies(w http.ResponseWriter, _ *http.Request) {
	snaps := h.reporter.SnapshotAll()
	views := make([]DependencyView, 0, len(snaps))
	for _, s := range snaps {
		views = append(views, h.view(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"dependencies": views})
}

func (h *Handler) getDependency(w http.ResponseWriter, r *http.Request) {
	s, err := h.reporter.Snapshot(resilience.DependencyKey(r.PathValue("key")))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_dependency")
		return
	}
	writeJSON(w, http.StatusOK, h.view(s))
}

// ResetResponse is the body of a successful reset.
type ResetResponse struct {
	Dependency    resilience.DependencyKey `json:"dependency"`
	PreviousState resilience.State         `json:"previous_state"`
	CircuitState  resilience.State         `json:"circuit_state"`
	AuditID       string                   `json:"audit_id"`
}

func (h *Handler) resetDependency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := resilience.DependencyKey(r.PathValue("key"))

	before, _ := h.reporter.Snapshot(key)
	if err := h.registry.Reset(key); err != nil {
		writeError(w, http.StatusNotFound, "unknown_dependency")
		return
	}

	var subject string
	if id := auth.IdentityFromContext(ctx); id != nil {
		subject = id.Subject
	}
	entry := AuditEntry{
		ID:               uuid.NewString(),
		Time:             h.now(),
		Subject:          subject,
		Action:           ActionReset,
		Dependency:       key,
		PreviousState:    before.CircuitState,
		PreviousFailures: before.FailureCount,
		PreviousInFlight: before.PoolOutstanding,
	}

	h.logger.Info(ctx, "dependency reset",
		observe.Field{Key: "dependency", Value: string(key)},
		observe.Field{Key: "subject", Value: subject},
		observe.Field{Key: "previous_state", Value: before.CircuitState.String()},
		observe.Field{Key: "previous_failures", Value: before.FailureCount},
	)
	if err := h.audit.Append(ctx, entry); err != nil {
		h.logger.Error(ctx, "audit append failed",
			observe.Field{Key: "audit_id", Value: entry.ID},
			observe.Field{Key: "error", Value: err},
		)
	}

	after := resilience.StateClosed
	if d, ok := h.registry.Lookup(key); ok {
		after = d.Breaker().State()
	}
	writeJSON(w, http.StatusOK, ResetResponse{
		Dependency:    key,
		PreviousState: before.CircuitState,
		CircuitState:  after,
		AuditID:       entry.ID,
	})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := DefaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}

	entries, err := h.audit.List(r.Context(), limit)
	if err != nil {
		h.logger.Error(r.Context(), "audit list failed", observe.Field{Key: "error", Value: err})
		writeError(w, http.StatusServiceUnavailable, "audit_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
