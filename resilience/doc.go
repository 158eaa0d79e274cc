// Package resilience governs how calls to fallible remote dependencies are
// attempted, retried, gated and accounted for.
//
// Every remote dependency (a payment provider, a SQL database, a Redis audit
// store) is identified by a DependencyKey. A Registry, constructed once at
// process startup, owns one CircuitBreaker and one Pool per key, created
// lazily on first use and configured from a Policy.
//
// # Components
//
//   - Backoff: exponential delay before retry N, plus uniform jitter.
//
//   - CircuitBreaker: Closed / Open / HalfOpen state machine. A single
//     half-open probe is admitted after the recovery timeout elapses.
//
//   - Pool: bounded count of outstanding calls per dependency, with a FIFO
//     queue of waiters that give up after an acquire deadline.
//
//   - Executor: composes the three around a caller-supplied operation.
//
// # Outcome classification
//
// Operations report failures as tagged errors rather than letting the
// executor guess from error text:
//
//	err := exec.Execute(ctx, "payment-service", func(ctx context.Context) error {
//	    resp, err := client.Do(ctx, req)
//	    if err != nil {
//	        return resilience.Retryable(err)
//	    }
//	    if resp.StatusCode == http.StatusBadRequest {
//	        return resilience.CallerFault(errBadRequest, "amount")
//	    }
//	    return nil
//	})
//
// Only dependency failures and attempt timeouts are counted by the circuit
// breaker. Caller faults are returned immediately, without retry and without
// penalizing the dependency.
//
// # Errors
//
// All terminal errors are typed and match a sentinel with errors.Is:
//
//	switch {
//	case errors.Is(err, resilience.ErrCircuitOpen):
//	case errors.Is(err, resilience.ErrPoolExhausted):
//	case errors.Is(err, resilience.ErrCallerFault):
//	case errors.Is(err, resilience.ErrRetriesExhausted):
//	}
package resilience
