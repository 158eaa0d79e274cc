package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/jonwraymond/depguard/ledger"
	"github.com/jonwraymond/depguard/payment"
	"github.com/jonwraymond/depguard/resilience"
)

// statusClientClosedRequest is reported when the caller went away.
const statusClientClosedRequest = 499

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Field         string `json:"field,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// problem is a failure mapped to its HTTP form.
type problem struct {
	status     int
	code       string
	message    string
	field      string
	retryAfter time.Duration
}

// classify maps err to the response a caller sees. now is used to turn a
// breaker's RetryAt into a Retry-After delay.
func classify(err error, now time.Time) problem {
	var (
		openErr   *resilience.CircuitOpenError
		poolErr   *resilience.PoolExhaustedError
		callerErr *resilience.CallerFaultError
	)

	switch {
	case errors.As(err, &openErr):
		retry := time.Second
		if !openErr.RetryAt.IsZero() {
			retry = max(openErr.RetryAt.Sub(now), time.Second)
		}
		return problem{
			status:     http.StatusServiceUnavailable,
			code:       "service_unavailable",
			message:    "service temporarily unavailable, try again shortly",
			retryAfter: retry,
		}
	case errors.As(err, &poolErr):
		return problem{
			status:     http.StatusServiceUnavailable,
			code:       "service_busy",
			message:    "service temporarily unavailable, try again shortly",
			retryAfter: time.Second,
		}
	case errors.Is(err, resilience.ErrPoolClosed), errors.Is(err, resilience.ErrRegistryClosed):
		return problem{status: http.StatusServiceUnavailable, code: "shutting_down", message: "service is shutting down"}
	case errors.Is(err, payment.ErrNotRecorded):
		return problem{
			status:  http.StatusBadGateway,
			code:    "ledger_unavailable",
			message: "the charge was accepted but not recorded; retry with the same Idempotency-Key",
		}
	case errors.As(err, &callerErr):
		return callerProblem(callerErr)
	case errors.Is(err, resilience.ErrAttemptTimeout):
		return problem{status: http.StatusGatewayTimeout, code: "timeout", message: "the payment service did not respond in time"}
	case errors.Is(err, context.DeadlineExceeded):
		return problem{status: http.StatusGatewayTimeout, code: "timeout", message: "request deadline exceeded"}
	case errors.Is(err, context.Canceled):
		return problem{status: statusClientClosedRequest, code: "canceled", message: "request canceled"}
	default:
		return problem{status: http.StatusBadGateway, code: "payment_failed", message: "the payment could not be completed"}
	}
}

func callerProblem(err *resilience.CallerFaultError) problem {
	p := problem{status: http.StatusBadRequest, code: "invalid_request", field: err.Field, message: err.Err.Error()}

	var statusErr *payment.StatusError
	if errors.As(err, &statusErr) && statusErr.Message != "" {
		p.message = statusErr.Message
	}

	switch {
	case errors.Is(err, ledger.ErrNotFound):
		p.status, p.code, p.message = http.StatusNotFound, "not_found", "payment not found"
	case errors.Is(err, payment.ErrDuplicateCharge):
		p.status, p.code = http.StatusConflict, "duplicate_charge"
	case errors.Is(err, payment.ErrIdempotencyReuse):
		p.status, p.code = http.StatusConflict, "idempotency_key_reused"
	case errors.Is(err, payment.ErrRejected):
		p.status, p.code = http.StatusUnprocessableEntity, "payment_rejected"
	case errors.Is(err, payment.ErrUnauthorized):
		p = problem{status: http.StatusBadGateway, code: "payment_failed", message: "the payment could not be completed"}
	}
	return p
}

// retryAfterSeconds formats d for the Retry-After header, rounding up.
func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}
