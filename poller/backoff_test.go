package poller

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"
)

func TestBackoffPolicy_Delay(t *testing.T) {
	tests := []struct {
		name    string
		factor  float64
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{name: "attempt zero uses base", factor: 2, base: time.Second, attempt: 0, want: time.Second},
		{name: "factor one never escalates", factor: 1, base: time.Second, attempt: 5, want: time.Second},
		{name: "factor below one is treated as one", factor: 0.5, base: time.Second, attempt: 3, want: time.Second},
		{name: "first escalation", factor: 2, base: time.Second, attempt: 1, want: 2 * time.Second},
		{name: "third escalation", factor: 2, base: 100 * time.Millisecond, attempt: 3, want: 800 * time.Millisecond},
		{name: "fractional factor", factor: 1.5, base: time.Second, attempt: 2, want: 2250 * time.Millisecond},
		{name: "zero base", factor: 2, base: 0, attempt: 3, want: 0},
		{name: "negative base", factor: 2, base: -time.Second, attempt: 1, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewBackoffPolicy(tt.factor, false, nil)
			if got := p.Delay(tt.base, tt.attempt); got != tt.want {
				t.Errorf("Delay(%v, %d) = %v, want %v", tt.base, tt.attempt, got, tt.want)
			}
		})
	}
}

// TestBackoffPolicy_Monotonic verifies that escalation never shrinks the
// delay for factors above one.
func TestBackoffPolicy_Monotonic(t *testing.T) {
	for _, factor := range []float64{1.1, 1.5, 2, 3} {
		p := NewBackoffPolicy(factor, false, nil)
		prev := p.Delay(250*time.Millisecond, 0)
		for attempt := 1; attempt <= 20; attempt++ {
			d := p.Delay(250*time.Millisecond, attempt)
			if d < prev {
				t.Fatalf("factor %v: Delay(attempt=%d) = %v < Delay(attempt=%d) = %v", factor, attempt, d, attempt-1, prev)
			}
			prev = d
		}
	}
}

// TestBackoffPolicy_JitterBounds verifies that jittered delays stay within
// [0.8, 1.2] of the computed delay (minus flooring) and are never negative.
func TestBackoffPolicy_JitterBounds(t *testing.T) {
	p := NewBackoffPolicy(2, true, rand.NewPCG(1, 2))
	base := 1000 * time.Millisecond

	for attempt := 0; attempt < 4; attempt++ {
		nominal := float64(base) * math.Pow(2, float64(attempt))
		low := time.Duration(nominal*0.8) - time.Millisecond
		high := time.Duration(nominal * 1.2)

		for i := 0; i < 500; i++ {
			d := p.Delay(base, attempt)
			if d < 0 {
				t.Fatalf("Delay() = %v, want non-negative", d)
			}
			if d < low || d > high {
				t.Fatalf("attempt %d: Delay() = %v, want within [%v, %v]", attempt, d, low, high)
			}
			if d%time.Millisecond != 0 {
				t.Fatalf("Delay() = %v, want whole milliseconds", d)
			}
		}
	}
}

// TestBackoffPolicy_DeterministicSource verifies that the same seed yields
// the same sequence of delays.
func TestBackoffPolicy_DeterministicSource(t *testing.T) {
	a := NewBackoffPolicy(1.5, true, rand.NewPCG(42, 7))
	b := NewBackoffPolicy(1.5, true, rand.NewPCG(42, 7))

	for attempt := 0; attempt < 10; attempt++ {
		da, db := a.Delay(time.Second, attempt), b.Delay(time.Second, attempt)
		if da != db {
			t.Fatalf("attempt %d: %v != %v with identical sources", attempt, da, db)
		}
	}
}

// TestBackoffPolicy_Saturates verifies that huge exponents clamp instead of
// overflowing into negative durations.
func TestBackoffPolicy_Saturates(t *testing.T) {
	p := NewBackoffPolicy(10, false, nil)
	d := p.Delay(time.Hour, 400)
	if d != time.Duration(math.MaxInt64) {
		t.Errorf("Delay() = %v, want saturation at MaxInt64", d)
	}
}

// TestNewBackoffPolicy_ClampsFactor verifies factors below one, and NaN, fall
// back to no escalation.
func TestNewBackoffPolicy_ClampsFactor(t *testing.T) {
	for _, f := range []float64{0, 0.5, math.NaN()} {
		p := NewBackoffPolicy(f, false, nil)
		if p.Factor() != 1 {
			t.Errorf("NewBackoffPolicy(%v).Factor() = %v, want 1", f, p.Factor())
		}
		if p.Jitter() {
			t.Errorf("NewBackoffPolicy(%v).Jitter() = true, want false", f)
		}
	}
}
