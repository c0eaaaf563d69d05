package poller

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	// jitterLow and jitterHigh bound the multiplicative jitter factor.
	jitterLow  = 0.8
	jitterHigh = 1.2
)

// BackoffPolicy computes the delay before the next cycle of a [Scheduler].
//
// The delay grows geometrically with the attempt index when Factor is greater
// than 1. With jitter enabled the computed delay is multiplied by a uniform
// random factor in [0.8, 1.2] and floored to whole milliseconds.
//
// BackoffPolicy is safe for concurrent use. Given the same random source it is
// deterministic.
type BackoffPolicy struct {
	factor float64
	jitter bool

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoffPolicy creates a [BackoffPolicy].
//
// A factor below 1 is treated as 1 (no escalation). If src is nil a randomly
// seeded PCG source is used.
func NewBackoffPolicy(factor float64, jitter bool, src rand.Source) *BackoffPolicy {
	if factor < 1 || math.IsNaN(factor) {
		factor = 1
	}
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &BackoffPolicy{
		factor: factor,
		jitter: jitter,
		rng:    rand.New(src),
	}
}

// Factor returns the escalation multiplier.
func (p *BackoffPolicy) Factor() float64 {
	return p.factor
}

// Jitter reports whether randomized jitter is applied.
func (p *BackoffPolicy) Jitter() bool {
	return p.jitter
}

// Delay returns the delay for the given attempt index.
//
// Attempt 0, or a factor of 1, yields the base interval. Otherwise the delay
// is base * factor^attempt. The result is never negative and saturates at the
// largest representable duration.
func (p *BackoffPolicy) Delay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	ms := float64(base) / float64(time.Millisecond)
	if attempt > 0 && p.factor > 1 {
		ms *= math.Pow(p.factor, float64(attempt))
	}

	if p.jitter {
		p.mu.Lock()
		ms *= jitterLow + (jitterHigh-jitterLow)*p.rng.Float64()
		p.mu.Unlock()
		ms = math.Floor(ms)
	}

	return msToDuration(ms)
}

// msToDuration converts fractional milliseconds to a duration, clamping to
// [0, math.MaxInt64].
func msToDuration(ms float64) time.Duration {
	switch {
	case math.IsNaN(ms) || ms <= 0:
		return 0
	case ms >= float64(math.MaxInt64)/float64(time.Millisecond):
		return time.Duration(math.MaxInt64)
	default:
		return time.Duration(ms * float64(time.Millisecond))
	}
}
