package delivery

import (
	"math/rand"
	"time"
)

// Backoff configures the delay between delivery retries.
type Backoff struct {
	Base time.Duration // delay for the first retry
	Max  time.Duration // cap for the exponential growth
}

// DefaultBackoff returns the retry delays used when none are configured.
func DefaultBackoff() Backoff {
	return Backoff{Base: 1 * time.Second, Max: 60 * time.Second}
}

// NextDelay computes the wait before retry number attempt using exponential
// backoff with full jitter: a random duration in [0, min(base<<(attempt-1), max)].
// attempt is 1-based. A nil rng falls back to the shared math/rand source.
func NextDelay(attempt int, cfg Backoff, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	def := DefaultBackoff()
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}

	delay := cfg.Base
	// Shift saturates at the cap; avoids overflow for large attempt numbers.
	for i := 1; i < attempt && delay < cfg.Max; i++ {
		delay <<= 1
	}
	if delay > cfg.Max {
		delay = cfg.Max
	}

	if rng == nil {
		return time.Duration(rand.Int63n(int64(delay) + 1))
	}
	return time.Duration(rng.Int63n(int64(delay) + 1))
}
