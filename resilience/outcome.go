package resilience

import (
	"errors"
	"time"
)

// Outcome classifies the result of a single attempt.
type Outcome int

const (
	// OutcomeSuccess means the operation completed.
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable means the dependency failed transiently.
	OutcomeRetryable
	// OutcomeCallerFault means the caller's input was rejected.
	OutcomeCallerFault
	// OutcomeAborted means the caller's own context ended the call.
	OutcomeAborted
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeCallerFault:
		return "caller_fault"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Classifier maps an operation error to an Outcome. It is only consulted
// for non-nil errors that were not caused by the caller's context or by the
// per-attempt timeout.
type Classifier func(err error) Outcome

// ClassifyError is the default Classifier. Errors tagged with CallerFault
// are caller faults; everything else, tagged or not, is retryable.
func ClassifyError(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var callerErr *CallerFaultError
	if errors.As(err, &callerErr) {
		return OutcomeCallerFault
	}
	return OutcomeRetryable
}

// Retryable tags err as a transient dependency failure.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	var depErr *DependencyFailureError
	if errors.As(err, &depErr) {
		return err
	}
	return &DependencyFailureError{Err: err}
}

// RateLimited tags err as an explicit overload signal from the dependency.
// retryAfter may be zero when the dependency did not say how long to wait.
func RateLimited(err error, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &DependencyFailureError{Err: err, RateLimited: true, RetryAfter: retryAfter}
}

// CallerFault tags err as caused by invalid caller input. field may be empty.
func CallerFault(err error, field string) error {
	if err == nil {
		return nil
	}
	return &CallerFaultError{Err: err, Field: field}
}

// retryAfterOf returns the dependency-requested wait carried by err, if any.
func retryAfterOf(err error) time.Duration {
	var depErr *DependencyFailureError
	if errors.As(err, &depErr) && depErr.RateLimited {
		return depErr.RetryAfter
	}
	return 0
}
