// Package secret resolves secrets referenced from configuration values.
//
// Two mechanisms are supported:
//   - Strict environment expansion of ${VAR} (see ExpandEnvStrict)
//   - Secret references of the form "secretref:<provider>:<ref>", resolved
//     by a registered Provider (see Resolver)
//
// The built-in providers are "env" (reads an environment variable) and
// "file" (reads a file such as a mounted Kubernetes secret):
//
//	payment.api_key: secretref:env:PAYMENT_API_KEY
//	admin.jwt_secret: secretref:file:/run/secrets/admin-jwt
//	payment.auth_header: Bearer secretref:env:PAYMENT_API_KEY
package secret
