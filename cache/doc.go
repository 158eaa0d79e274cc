// Package cache stores completed results by key so that retried requests
// observe the first outcome instead of repeating side effects.
//
// It provides a Cache interface with an LRU-bounded memory implementation,
// SHA-256 request fingerprints, TTL policies, and Idempotency, which
// coalesces concurrent duplicates and rejects a key reused for a
// different request.
package cache
