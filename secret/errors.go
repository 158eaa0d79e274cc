package secret

import "errors"

// Sentinel errors for secret resolution.
var (
	ErrMissingEnv            = errors.New("secret: missing required environment variables")
	ErrProviderNotRegistered = errors.New("secret: provider not registered")
	ErrInvalidRef            = errors.New("secret: invalid secret reference")
	ErrEmptySecret           = errors.New("secret: provider returned empty value")
	ErrSecretNotFound        = errors.New("secret: secret not found")
)
