package connection

import (
	"math"
	"math/rand/v2"
	"time"
)

// backoff computes reconnect delays: base doubled per attempt, capped at max.
// It holds no attempt counter of its own; the Manager owns that.
type backoff struct {
	base   time.Duration
	max    time.Duration
	jitter float64
	rand   func() float64
}

func newBackoff(base, max time.Duration, jitter float64) backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if jitter < 0 || jitter > 1 {
		jitter = 0
	}
	return backoff{
		base:   base,
		max:    max,
		jitter: jitter,
		rand:   rand.Float64,
	}
}

// duration returns the delay before reconnect attempt n (n >= 1).
func (b backoff) duration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(b.base) * math.Pow(2, float64(attempt-1))
	if d > float64(b.max) || math.IsInf(d, 1) {
		d = float64(b.max)
	}

	if b.jitter > 0 {
		// Spread uniformly over [d*(1-jitter), d*(1+jitter)].
		d += (b.rand()*2 - 1) * b.jitter * d
		if d > float64(b.max) {
			d = float64(b.max)
		}
	}

	if d <= 0 {
		return b.base
	}
	return time.Duration(d)
}
