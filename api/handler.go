package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/depguard/ledger"
	"github.com/jonwraymond/depguard/observe"
	"github.com/jonwraymond/depguard/payment"
	"github.com/jonwraymond/depguard/resilience"
)

// Header names.
const (
	HeaderCorrelationID  = "X-Correlation-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// maxBodyBytes bounds a charge request body.
const maxBodyBytes = 64 << 10

// Payments is the service behind the handler.
type Payments interface {
	Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error)
	Get(ctx context.Context, id string) (*ledger.Payment, error)
}

// Handler serves the public payment API.
type Handler struct {
	svc    Payments
	logger observe.Logger
	now    func() time.Time
	mux    *http.ServeMux
}

// NewHandler creates a handler over svc.
func NewHandler(svc Payments, logger observe.Logger) *Handler {
	if logger == nil {
		logger = observe.NopLogger()
	}
	h := &Handler{
		svc:    svc,
		logger: logger.With(observe.Field{Key: "component", Value: "api"}),
		now:    time.Now,
		mux:    http.NewServeMux(),
	}
	h.Register(h.mux)
	return h
}

// Register adds the payment routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /v1/payments", withCorrelationID(http.HandlerFunc(h.createPayment)))
	mux.Handle("GET /v1/payments/{id}", withCorrelationID(http.HandlerFunc(h.getPayment)))
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req payment.ChargeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeProblem(w, r, problem{
			status:  http.StatusBadRequest,
			code:    "invalid_json",
			message: "request body must be a JSON charge request",
		})
		return
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)

	result, err := h.svc.Charge(ctx, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	code := http.StatusCreated
	if result.Replayed {
		code = http.StatusOK
		w.Header().Set(HeaderReplayed, "true")
	}
	writeJSON(w, code, result)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	p := classify(err, h.now())

	fields := []observe.Field{
		{Key: "path", Value: r.URL.Path},
		{Key: "correlation_id", Value: correlationID(r.Context())},
		{Key: "status", Value: p.status},
		{Key: "error_class", Value: observe.ErrorClass(err)},
		{Key: "error", Value: err},
	}
	switch {
	case errors.Is(err, resilience.ErrCallerFault):
		h.logger.Info(r.Context(), "request rejected", fields...)
	case p.status >= http.StatusInternalServerError:
		h.logger.Error(r.Context(), "request failed", fields...)
	default:
		h.logger.Warn(r.Context(), "request failed", fields...)
	}

	h.writeProblem(w, r, p)
}

func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, p problem) {
	if p.retryAfter > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(p.retryAfter))
	}
	writeJSON(w, p.status, ErrorResponse{
		Error:         p.code,
		Message:       p.message,
		Field:         p.field,
		CorrelationID: correlationID(r.Context()),
	})
}

type correlationKey struct{}

// withCorrelationID attaches the request's correlation id to its context and
// echoes it in the response, generating one when the caller sent none.
func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderCorrelationID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderCorrelationID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationKey{}, id)))
	})
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
