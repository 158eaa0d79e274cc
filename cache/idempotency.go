package cache

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// LoadFunc produces the result to remember for a key.
type LoadFunc func(ctx context.Context) ([]byte, error)

// Idempotency remembers the result of the first successful call per key.
//
// Each stored result is tagged with a fingerprint of the request that
// produced it. A later call with the same key but a different request gets
// ErrKeyConflict, including while the first request is still in flight.
// Concurrent calls with the same key and request share one load, which runs
// to completion even if the caller that started it gives up. Errors are never
// stored, so a failed call may be retried under its key.
type Idempotency struct {
	cache     Cache
	keyer     Keyer
	policy    Policy
	namespace string
	group     singleflight.Group
}

// NewIdempotency creates an idempotency guard. A nil keyer uses DefaultKeyer.
func NewIdempotency(cache Cache, keyer Keyer, policy Policy, namespace string) (*Idempotency, error) {
	if cache == nil {
		return nil, ErrNilCache
	}
	if keyer == nil {
		keyer = NewDefaultKeyer()
	}
	return &Idempotency{cache: cache, keyer: keyer, policy: policy, namespace: namespace}, nil
}

// Do returns the remembered result for key, or runs load and remembers its
// result. hit reports whether the result came from the cache.
func (m *Idempotency) Do(ctx context.Context, key string, input any, load LoadFunc) (result []byte, hit bool, err error) {
	if !m.policy.ShouldCache() {
		result, err = load(ctx)
		return result, false, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, false, err
	}
	fingerprint, err := m.keyer.Key(m.namespace, input)
	if err != nil {
		return nil, false, err
	}
	storeKey := m.namespace + ":" + key

	if result, ok, err := m.lookup(ctx, storeKey, fingerprint); ok || err != nil {
		return result, ok, err
	}

	ch := m.group.DoChan(storeKey, func() (any, error) {
		// Detached from the starting caller's cancellation.
		fctx := context.WithoutCancel(ctx)
		f := flight{fingerprint: fingerprint}
		if result, ok, err := m.lookup(fctx, storeKey, fingerprint); ok || err != nil {
			f.result, f.hit = result, ok
			return f, err
		}
		result, err := load(fctx)
		if err != nil {
			return f, err
		}
		_ = m.cache.Set(fctx, storeKey, encodeEntry(fingerprint, result), m.policy.EffectiveTTL(0))
		f.result = result
		return f, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	f, _ := res.Val.(flight)
	if f.fingerprint != fingerprint {
		// The flight ran a different request under this key.
		stored, ok, err := m.lookup(ctx, storeKey, fingerprint)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return stored, true, nil
		}
		return nil, false, fmt.Errorf("%w: %s", ErrKeyConflict, storeKey)
	}
	if res.Err != nil {
		return nil, false, res.Err
	}
	return f.result, f.hit, nil
}

// Forget drops the remembered result for key.
func (m *Idempotency) Forget(ctx context.Context, key string) error {
	return m.cache.Delete(ctx, m.namespace+":"+key)
}

type flight struct {
	fingerprint string
	result      []byte
	hit         bool
}

func (m *Idempotency) lookup(ctx context.Context, storeKey, fingerprint string) ([]byte, bool, error) {
	raw, ok := m.cache.Get(ctx, storeKey)
	if !ok {
		return nil, false, nil
	}
	stored, result, ok := bytes.Cut(raw, []byte{'\n'})
	if !ok {
		_ = m.cache.Delete(ctx, storeKey)
		return nil, false, nil
	}
	if string(stored) != fingerprint {
		return nil, false, fmt.Errorf("%w: %s", ErrKeyConflict, storeKey)
	}
	return result, true, nil
}

func encodeEntry(fingerprint string, result []byte) []byte {
	buf := make([]byte, 0, len(fingerprint)+1+len(result))
	buf = append(buf, fingerprint...)
	buf = append(buf, '\n')
	return append(buf, result...)
}
