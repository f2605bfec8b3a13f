package stream

import (
	"math"
	"math/rand"
	"time"
)

const backoffJitterFraction = 0.1

// Backoff returns the delay before reconnect attempt number attempt (zero
// based): base doubled per attempt, capped at max, then jittered by ±10%.
// The jitter is applied after the cap, so the effective delay can land
// slightly above max; keeping reconnects desynchronized matters more than a
// hard ceiling. base and max must be positive; non-positive inputs are a
// caller error and yield zero.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	return backoffWithRandom(attempt, base, max, rand.Float64())
}

// backoffWithRandom is Backoff with the random factor injected, in [0, 1).
func backoffWithRandom(attempt int, base, max time.Duration, randomFactor float64) time.Duration {
	if attempt < 0 || base <= 0 || max <= 0 {
		return 0
	}
	if randomFactor < 0 {
		randomFactor = 0
	}
	if randomFactor > 1 {
		randomFactor = 1
	}

	raw := float64(base) * math.Pow(2, float64(attempt))
	if raw > float64(max) {
		raw = float64(max)
	}

	jitterRange := raw * backoffJitterFraction
	jittered := raw - jitterRange + 2*jitterRange*randomFactor
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}
