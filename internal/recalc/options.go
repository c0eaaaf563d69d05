package recalc

import (
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/upnest/growthsync/convergence"
	"github.com/upnest/growthsync/internal/store"
	"github.com/upnest/growthsync/poller"
)

// Defaults applied by [New].
const (
	DefaultInterval      = time.Second
	DefaultMaxRetries    = 10
	DefaultBackoffFactor = 2.0
	DefaultWriteRetries  = 3
)

// config holds mutable state during Coordinator construction.
type config struct {
	interval        time.Duration
	maxRetries      int
	backoffFactor   float64
	jitter          bool
	leading         bool
	pauseWhenHidden bool
	gate            poller.VisibilityGate
	tolerance       float64
	writeRetries    int
	writeInitial    time.Duration
	writeMax        time.Duration
	store           store.Store
	clock           clockwork.Clock
	logger          *slog.Logger
}

func defaultConfig() *config {
	return &config{
		interval:        DefaultInterval,
		maxRetries:      DefaultMaxRetries,
		backoffFactor:   DefaultBackoffFactor,
		jitter:          true,
		leading:         true,
		pauseWhenHidden: true,
		tolerance:       convergence.DefaultTolerance,
		writeRetries:    DefaultWriteRetries,
		writeInitial:    200 * time.Millisecond,
		writeMax:        2 * time.Second,
	}
}

// Option configures a [Coordinator].
type Option func(*config) error

// WithInterval sets the base polling interval.
func WithInterval(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.New("interval must be positive")
		}
		c.interval = d
		return nil
	}
}

// WithMaxRetries sets the retry budget. It bounds both consecutive probe
// failures and successful checks that have not converged yet.
func WithMaxRetries(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return errors.New("max retries must be positive")
		}
		c.maxRetries = n
		return nil
	}
}

// WithBackoffFactor sets the escalation multiplier applied on consecutive
// probe failures.
func WithBackoffFactor(f float64) Option {
	return func(c *config) error {
		if f < 1 || math.IsNaN(f) {
			return errors.New("backoff factor must be >= 1")
		}
		c.backoffFactor = f
		return nil
	}
}

// WithJitter toggles the ±20% randomized delay.
func WithJitter(enabled bool) Option {
	return func(c *config) error {
		c.jitter = enabled
		return nil
	}
}

// WithLeading controls whether the first check runs right after the write.
func WithLeading(leading bool) Option {
	return func(c *config) error {
		c.leading = leading
		return nil
	}
}

// WithPauseWhenHidden toggles suspension of checks while the host is hidden.
func WithPauseWhenHidden(pause bool) Option {
	return func(c *config) error {
		c.pauseWhenHidden = pause
		return nil
	}
}

// WithVisibilityGate sets the gate consulted before every check.
func WithVisibilityGate(g poller.VisibilityGate) Option {
	return func(c *config) error {
		if g == nil {
			return errors.New("visibility gate cannot be nil")
		}
		c.gate = g
		return nil
	}
}

// WithTolerance sets the numeric tolerance of value comparisons.
func WithTolerance(t float64) Option {
	return func(c *config) error {
		if t <= 0 || math.IsNaN(t) {
			return errors.New("tolerance must be positive")
		}
		c.tolerance = t
		return nil
	}
}

// WithWriteRetries sets how often a write failing with a temporary error is
// retried. Zero disables retries.
func WithWriteRetries(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return errors.New("write retries cannot be negative")
		}
		c.writeRetries = n
		return nil
	}
}

// WithWriteBackoff sets the initial and maximum delay between write retries.
func WithWriteBackoff(initial, maxDelay time.Duration) Option {
	return func(c *config) error {
		if initial <= 0 || maxDelay < initial {
			return errors.New("write backoff requires 0 < initial <= max")
		}
		c.writeInitial = initial
		c.writeMax = maxDelay
		return nil
	}
}

// WithStore sets the store phase events are published to.
func WithStore(s store.Store) Option {
	return func(c *config) error {
		if s == nil {
			return errors.New("store cannot be nil")
		}
		c.store = s
		return nil
	}
}

// WithClock sets the clock driving polling timers.
func WithClock(clock clockwork.Clock) Option {
	return func(c *config) error {
		if clock == nil {
			return errors.New("clock cannot be nil")
		}
		c.clock = clock
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}
