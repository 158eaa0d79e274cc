// Package api serves the public payment endpoints.
//
// Handler accepts charges on POST /v1/payments and looks them up on
// GET /v1/payments/{id}. Every response carries an X-Correlation-ID,
// reused from the request when present. Failures are mapped from the
// resilience error taxonomy to user-visible responses:
//
//	caller fault                       400, 409 or 422 with the offending field
//	circuit open, pool exhausted       503 with Retry-After
//	attempt timeout                    504
//	dependency failure, retries spent  502 with the correlation id
package api
