package resilience

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// maxBackoff caps computed delays well below the int64 overflow point.
const maxBackoff = time.Duration(1 << 62)

// Backoff computes the delay before a retry: base * multiplier^attempt, plus
// a uniform jitter in [0, jitterMax]. Delays grow without an explicit cap;
// callers bound the number of attempts.
type Backoff struct {
	base       time.Duration
	multiplier float64
	jitterMax  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoff creates a backoff policy. A nil rng uses the process-wide
// random source; pass a seeded one for reproducible delays.
func NewBackoff(base time.Duration, multiplier float64, jitterMax time.Duration, rng *rand.Rand) *Backoff {
	if base < 0 {
		base = 0
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	if jitterMax < 0 {
		jitterMax = 0
	}
	if jitterMax > maxBackoff {
		jitterMax = maxBackoff
	}
	return &Backoff{
		base:       base,
		multiplier: multiplier,
		jitterMax:  jitterMax,
		rng:        rng,
	}
}

// Delay returns the wait before retry attempt (0-based). The result lies in
// [0, maxBackoff] for any attempt and jitter.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	raw := float64(b.base) * math.Pow(b.multiplier, float64(attempt))

	var delay time.Duration
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw >= float64(maxBackoff) {
		delay = maxBackoff
	} else {
		delay = time.Duration(raw)
	}

	if b.jitterMax > 0 {
		j := b.jitter()
		if delay > maxBackoff-j {
			delay = maxBackoff
		} else {
			delay += j
		}
	}

	return delay
}

func (b *Backoff) jitter() time.Duration {
	// #nosec G404 -- jitter is non-cryptographic timing variance.
	if b.rng == nil {
		return time.Duration(rand.Int64N(int64(b.jitterMax) + 1))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Duration(b.rng.Int64N(int64(b.jitterMax) + 1))
}
