package display

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the delay before retry attempt n (1-indexed).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ConstantBackoff always waits Interval.
type ConstantBackoff struct {
	Interval time.Duration
}

func (c ConstantBackoff) Delay(int) time.Duration { return c.Interval }

// JitterBackoff is exponential with full jitter:
// a random value in [0, min(Initial * 2^(attempt-1), Max)].
type JitterBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (j JitterBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(j.Initial) * math.Pow(2, float64(attempt-1))
	if j.Max > 0 && base > float64(j.Max) {
		base = float64(j.Max)
	}
	return time.Duration(rand.Float64() * base)
}

// DefaultBackoff is used for block retries: 1s doubling up to 30s.
func DefaultBackoff() Backoff {
	return JitterBackoff{Initial: time.Second, Max: 30 * time.Second}
}
