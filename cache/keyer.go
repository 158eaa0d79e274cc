package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Keyer fingerprints the request an idempotency key was first used with,
// so a reuse of the key for a different request can be detected.
//
// Contract:
// - Determinism: equal inputs produce equal keys regardless of map order.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key fingerprints input within namespace.
	Key(namespace string, input any) (string, error)
}

// DefaultKeyer fingerprints the JSON encoding of the input. encoding/json
// writes map keys sorted and struct fields in declaration order, so the
// encoding is canonical for the request types it is used with.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key returns "<namespace>:<16 hex>", the hex being the first 8 bytes of
// SHA-256 over the input's JSON encoding.
func (k *DefaultKeyer) Key(namespace string, input any) (string, error) {
	h := sha256.New()
	if err := json.NewEncoder(h).Encode(input); err != nil {
		return "", fmt.Errorf("cache: fingerprint input: %w", err)
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil)[:8]), nil
}

var _ Keyer = (*DefaultKeyer)(nil)
