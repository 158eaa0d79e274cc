package payment

import (
	"errors"
	"fmt"
)

// Sentinel errors for payment operations.
var (
	ErrInvalidAmount    = errors.New("payment: amount must be positive")
	ErrInvalidCurrency  = errors.New("payment: currency must be a 3-letter ISO 4217 code")
	ErrMissingProvider  = errors.New("payment: provider is required")
	ErrMissingUserID    = errors.New("payment: user id is required")
	ErrInvalidTxnID     = errors.New("payment: transaction id is invalid")
	ErrInvalidBaseURL   = errors.New("payment: base url is invalid")
	ErrRejected         = errors.New("payment: request rejected")
	ErrUnauthorized     = errors.New("payment: provider rejected credentials")
	ErrDuplicateCharge  = errors.New("payment: duplicate charge")
	ErrRateLimited      = errors.New("payment: rate limit exceeded")
	ErrProviderError    = errors.New("payment: provider error")
	ErrUnreachable      = errors.New("payment: gateway unreachable")
	ErrBadResponse      = errors.New("payment: malformed provider response")
	ErrNotRecorded      = errors.New("payment: charge not recorded in ledger")
	ErrIdempotencyReuse = errors.New("payment: idempotency key reused with a different request")
)

// StatusError is a non-success response from the provider.
type StatusError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%v: status %d: %s", e.kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%v: status %d", e.kind, e.StatusCode)
}

// Unwrap returns the sentinel describing the status class.
func (e *StatusError) Unwrap() error {
	return e.kind
}
