// Package ledger records completed payments in MySQL.
//
// Every query runs through a resilience.Executor under the "database"
// dependency key. Driver errors are classified before they reach the
// executor: constraint and data errors are caller faults that never
// trip the breaker, while deadlocks, lock timeouts and connection
// failures are retryable dependency failures.
package ledger
