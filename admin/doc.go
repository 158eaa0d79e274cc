// Package admin is the privileged operator surface of depguard.
//
// Handler lists dependency state, resets a dependency's breaker and pool
// after an incident is resolved, and serves the audit trail of resets.
// Every route is guarded by an auth.Middleware; resets require the
// operator role. Audit entries are appended to an AuditStore, normally a
// Redis list whose calls run through the executor under "audit-store".
package admin
