package poller

import (
	"errors"
	"log/slog"
	"math/rand/v2"

	"github.com/jonboulle/clockwork"
)

// settings holds mutable state during Scheduler construction.
type settings struct {
	leading          bool
	enabled          bool
	maxRetries       int
	backoffFactor    float64
	jitter           bool
	stopOnFirstError bool
	pauseWhenHidden  bool
	clock            clockwork.Clock
	gate             VisibilityGate
	logger           *slog.Logger
	randSource       rand.Source
}

func defaultSettings() *settings {
	return &settings{
		leading:         true,
		enabled:         true,
		backoffFactor:   1,
		pauseWhenHidden: true,
	}
}

// Option configures a [Scheduler] during construction.
//
// Options return an error if validation fails, in which case [New] fails.
type Option func(*settings) error

// WithLeading controls whether the first cycle fires immediately on Start
// (true, the default) or after one base interval.
func WithLeading(leading bool) Option {
	return func(s *settings) error {
		s.leading = leading
		return nil
	}
}

// WithEnabled sets the initial enabled state. A disabled scheduler ignores
// Start until [Scheduler.SetEnabled] enables it. Defaults to true.
func WithEnabled(enabled bool) Option {
	return func(s *settings) error {
		s.enabled = enabled
		return nil
	}
}

// WithMaxRetries caps consecutive probe failures. Reaching the cap ends the
// session with a [PolicyTerminatedError]. Unset means unlimited.
//
// Returns an error if n is zero or negative.
func WithMaxRetries(n int) Option {
	return func(s *settings) error {
		if n <= 0 {
			return errors.New("max retries must be positive")
		}
		s.maxRetries = n
		return nil
	}
}

// WithBackoffFactor sets the multiplier applied per consecutive failure.
// Defaults to 1 (no escalation).
//
// Returns an error if factor is below 1.
func WithBackoffFactor(factor float64) Option {
	return func(s *settings) error {
		if !(factor >= 1) {
			return errors.New("backoff factor must be at least 1")
		}
		s.backoffFactor = factor
		return nil
	}
}

// WithJitter enables ±20% randomized delays. Defaults to false.
func WithJitter(enabled bool) Option {
	return func(s *settings) error {
		s.jitter = enabled
		return nil
	}
}

// WithStopOnFirstError makes the first probe failure terminal, bypassing
// [WithMaxRetries]. Defaults to false.
func WithStopOnFirstError(stop bool) Option {
	return func(s *settings) error {
		s.stopOnFirstError = stop
		return nil
	}
}

// WithPauseWhenHidden suspends cycles while the [VisibilityGate] reports the
// host as not observable. Defaults to true.
func WithPauseWhenHidden(pause bool) Option {
	return func(s *settings) error {
		s.pauseWhenHidden = pause
		return nil
	}
}

// WithVisibilityGate sets the gate consulted when pausing while hidden.
// Defaults to [AlwaysObservable].
//
// Returns an error if the gate is nil.
func WithVisibilityGate(g VisibilityGate) Option {
	return func(s *settings) error {
		if g == nil {
			return errors.New("visibility gate cannot be nil")
		}
		s.gate = g
		return nil
	}
}

// WithClock sets the clock used for timers. Defaults to the real clock.
//
// Returns an error if the clock is nil.
func WithClock(c clockwork.Clock) Option {
	return func(s *settings) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}
		s.clock = c
		return nil
	}
}

// WithLogger sets the logger for scheduler events. Defaults to [slog.Default].
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithRandSource sets the random source used for jitter, making delays
// reproducible.
func WithRandSource(src rand.Source) Option {
	return func(s *settings) error {
		s.randSource = src
		return nil
	}
}
