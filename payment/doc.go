// Package payment charges cards through an external payment provider.
//
// Client speaks the provider's HTTP API over fasthttp and tags every
// response for the resilience executor: rejected requests are caller
// faults, throttling is a rate-limited dependency failure, and server
// errors or network failures are retryable. Service validates requests,
// deduplicates them by idempotency key, runs each charge through the
// executor under the "payment-service" key and records it in the ledger.
package payment
