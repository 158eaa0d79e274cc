package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jonwraymond/depguard/observe"
)

// ResourceFunc names the resource a request targets.
type ResourceFunc func(r *http.Request) string

// Resource returns a ResourceFunc that always names resource.
func Resource(resource string) ResourceFunc {
	return func(*http.Request) string { return resource }
}

// Middleware guards HTTP handlers with an Authenticator and an Authorizer.
type Middleware struct {
	authn  Authenticator
	authz  Authorizer
	logger observe.Logger
}

// NewMiddleware creates a middleware. A nil logger discards denials.
func NewMiddleware(authn Authenticator, authz Authorizer, logger observe.Logger) *Middleware {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &Middleware{authn: authn, authz: authz, logger: logger}
}

// Require serves next only for identities allowed to perform action on the
// request's resource. The identity is attached to the request context.
//
// Missing or invalid credentials get 401, insufficient roles get 403.
func (m *Middleware) Require(action string, resource ResourceFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := m.authn.Authenticate(r)
		if err != nil {
			m.logger.Warn(ctx, "admin request unauthenticated",
				observe.Field{Key: "path", Value: r.URL.Path},
				observe.Field{Key: "authenticator", Value: m.authn.Name()},
				observe.Field{Key: "error", Value: err},
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="depguard"`)
			writeError(w, http.StatusUnauthorized, authErrorCode(err))
			return
		}

		req := &AuthzRequest{Subject: id, Resource: resource(r), Action: action}
		if err := m.authz.Authorize(ctx, req); err != nil {
			m.logger.Warn(ctx, "admin request forbidden",
				observe.Field{Key: "subject", Value: id.Subject},
				observe.Field{Key: "resource", Value: req.Resource},
				observe.Field{Key: "action", Value: action},
			)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
	})
}

func authErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredentials):
		return "missing_credentials"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	default:
		return "invalid_credentials"
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
