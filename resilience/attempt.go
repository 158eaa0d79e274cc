package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AttemptRecord describes one invocation of an operation. It is handed to
// Hooks.OnAttempt and then discarded.
type AttemptRecord struct {
	Key     DependencyKey
	Attempt int // 0-based
	Start   time.Time
	Elapsed time.Duration
	Outcome Outcome
	Err     error
}

// TimedOut reports whether the attempt was cut off by the per-attempt timeout.
func (r AttemptRecord) TimedOut() bool {
	return errors.Is(r.Err, ErrAttemptTimeout)
}

// ErrOperationPanic wraps the value recovered from a panicking operation.
// A panic is treated as a retryable dependency failure.
var ErrOperationPanic = errors.New("resilience: operation panicked")

// runAttempt runs op with a timeout. If the timeout fires first the
// operation is abandoned: its context is canceled and its eventual result
// is discarded without being waited for.
//
// timedOut is true only when the attempt's own deadline fired while the
// parent context was still live; if the parent ended, its error is returned.
func runAttempt(parent context.Context, timeout time.Duration, op func(context.Context) error) (timedOut bool, err error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrOperationPanic, r)
			}
		}()
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		if ctx.Err() == nil {
			return false, err
		}
		// Finished after the deadline; the result is discarded
		return expired(parent, ctx)
	case <-ctx.Done():
		return expired(parent, ctx)
	}
}

func expired(parent, attempt context.Context) (bool, error) {
	if perr := parent.Err(); perr != nil {
		return false, perr
	}
	return true, attempt.Err()
}
