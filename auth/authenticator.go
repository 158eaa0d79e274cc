package auth

import "net/http"

// Authenticator validates the credentials carried by a request.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: a request without credentials returns ErrMissingCredentials;
//   rejected credentials return an error matching ErrInvalidCredentials,
//   ErrTokenExpired or ErrTokenMalformed.
type Authenticator interface {
	// Name returns a unique identifier for this authenticator.
	Name() string

	// Authenticate returns the identity behind the request's credentials.
	Authenticate(r *http.Request) (*Identity, error)
}

// AuthenticatorFunc is an adapter to allow use of ordinary functions as Authenticators.
type AuthenticatorFunc func(r *http.Request) (*Identity, error)

// Name returns "func".
func (f AuthenticatorFunc) Name() string { return "func" }

// Authenticate calls f(r).
func (f AuthenticatorFunc) Authenticate(r *http.Request) (*Identity, error) { return f(r) }
