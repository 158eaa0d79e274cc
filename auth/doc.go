// Package auth authenticates and authorizes operators of the admin API.
//
// Operators present an HS256-signed JWT as a bearer token. Its "roles"
// claim is checked against a small role-based permission table (see
// DefaultRBACConfig): viewers may read dependency state, operators may
// also reset breakers and read the audit trail.
package auth
