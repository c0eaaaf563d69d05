package growthsync

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/upnest/growthsync/poller"
)

// syncConfig holds mutable state during Syncer construction.
type syncConfig struct {
	baseURL         string
	token           string
	userAgent       string
	requestTimeout  time.Duration
	transport       http.RoundTripper
	debug           bool
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
	logger          *slog.Logger
	outcomeCbs      []func(Outcome)
	eventCbs        []func(Event)
}

// Option is a function that configures a [Syncer] during construction.
//
// Option implements the functional options pattern. Options return an error
// if validation fails, which [New] passes through unchanged.
type Option func(*syncConfig) error

// WithBaseURL sets the root URL of the growth-data API. Required.
//
// Example:
//
//	s, err := growthsync.New(
//	    growthsync.WithBaseURL("https://api.example.com/v1"),
//	)
func WithBaseURL(raw string) Option {
	return func(cfg *syncConfig) error {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid base URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("base URL must use http or https, got %q", raw)
		}
		if u.Host == "" {
			return fmt.Errorf("base URL must have a host, got %q", raw)
		}
		cfg.baseURL = raw
		return nil
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(cfg *syncConfig) error {
		cfg.token = token
		return nil
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cfg *syncConfig) error {
		if ua == "" {
			return errors.New("user agent cannot be empty")
		}
		cfg.userAgent = ua
		return nil
	}
}

// WithRequestTimeout sets the timeout of each individual API request.
// Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *syncConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithHTTPTransport replaces the pooled HTTP transport, e.g. with a test
// server's transport.
func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(cfg *syncConfig) error {
		if rt == nil {
			return errors.New("transport cannot be nil")
		}
		cfg.transport = rt
		return nil
	}
}

// WithDebug logs every API response at debug level.
func WithDebug(debug bool) Option {
	return func(cfg *syncConfig) error {
		cfg.debug = debug
		return nil
	}
}

// WithInterval sets the base delay between convergence checks.
//
// The delay escalates by [WithBackoffFactor] while checks fail. Defaults to
// 1 second.
//
// Example:
//
//	s, err := growthsync.New(
//	    growthsync.WithBaseURL(base),
//	    growthsync.WithInterval(500 * time.Millisecond),
//	)
//
// Returns an error if the duration is zero or negative.
func WithInterval(d time.Duration) Option {
	return func(cfg *syncConfig) error {
		if d <= 0 {
			return errors.New("interval must be positive")
		}
		cfg.interval = d
		return nil
	}
}

// WithMaxRetries sets how many convergence checks run before a write is
// reported as timed out. The same budget bounds consecutive failing checks.
// Defaults to 10.
func WithMaxRetries(n int) Option {
	return func(cfg *syncConfig) error {
		if n <= 0 {
			return errors.New("max retries must be positive")
		}
		cfg.maxRetries = n
		return nil
	}
}

// WithBackoffFactor sets the multiplier applied to the interval after each
// consecutive failed check. A factor of 1 disables escalation. Defaults to 2.
func WithBackoffFactor(f float64) Option {
	return func(cfg *syncConfig) error {
		if f < 1 || math.IsNaN(f) {
			return fmt.Errorf("backoff factor must be >= 1, got %v", f)
		}
		cfg.backoffFactor = f
		return nil
	}
}

// WithJitter toggles the ±20% randomization of check delays. Enabled by
// default.
func WithJitter(enabled bool) Option {
	return func(cfg *syncConfig) error {
		cfg.jitter = enabled
		return nil
	}
}

// WithLeading controls whether the first check runs right after the write
// instead of one interval later. Enabled by default.
func WithLeading(leading bool) Option {
	return func(cfg *syncConfig) error {
		cfg.leading = leading
		return nil
	}
}

// WithPauseWhenHidden toggles suspension of checks while the visibility gate
// reports the host as hidden. Enabled by default; without a gate it has no
// effect.
func WithPauseWhenHidden(pause bool) Option {
	return func(cfg *syncConfig) error {
		cfg.pauseWhenHidden = pause
		return nil
	}
}

// WithVisibilityGate sets the gate consulted before every convergence check.
//
// Example:
//
//	gate := poller.NewManualGate(true)
//	s, err := growthsync.New(
//	    growthsync.WithBaseURL(base),
//	    growthsync.WithVisibilityGate(gate),
//	)
//	// later, when the terminal loses focus:
//	gate.Set(false)
func WithVisibilityGate(g poller.VisibilityGate) Option {
	return func(cfg *syncConfig) error {
		if g == nil {
			return errors.New("visibility gate cannot be nil")
		}
		cfg.gate = g
		return nil
	}
}

// WithTolerance sets the absolute tolerance used when comparing numeric
// derived values. Defaults to 0.01.
func WithTolerance(t float64) Option {
	return func(cfg *syncConfig) error {
		if t <= 0 || math.IsNaN(t) {
			return fmt.Errorf("tolerance must be positive, got %v", t)
		}
		cfg.tolerance = t
		return nil
	}
}

// WithWriteRetries sets how often a write failing with a temporary error
// (timeouts, 429, 5xx) is retried. Zero disables retries. Defaults to 3.
func WithWriteRetries(n int) Option {
	return func(cfg *syncConfig) error {
		if n < 0 {
			return errors.New("write retries cannot be negative")
		}
		cfg.writeRetries = n
		return nil
	}
}

// WithWriteBackoff sets the initial and maximum delay between write retries.
func WithWriteBackoff(initial, maxDelay time.Duration) Option {
	return func(cfg *syncConfig) error {
		if initial <= 0 || maxDelay < initial {
			return errors.New("write backoff requires 0 < initial <= max")
		}
		cfg.writeInitial = initial
		cfg.writeMax = maxDelay
		return nil
	}
}

// WithLogger sets a custom logger.
//
// Defaults to [slog.Default] if not specified.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	s, err := growthsync.New(
//	    growthsync.WithBaseURL(base),
//	    growthsync.WithLogger(logger),
//	)
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *syncConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithOutcomeCallback registers a function called with the [Outcome] of
// every write, after the write call has finished its work.
//
// Multiple callbacks run in registration order. Callbacks run on the
// caller's goroutine and should return quickly. A panicking callback is
// logged and does not affect other callbacks or the returned outcome.
func WithOutcomeCallback(cb func(Outcome)) Option {
	return func(cfg *syncConfig) error {
		if cb == nil {
			return errors.New("outcome callback cannot be nil")
		}
		cfg.outcomeCbs = append(cfg.outcomeCbs, cb)
		return nil
	}
}

// WithEventCallback registers a function called with every phase
// transition, e.g. to render progress.
//
// Callbacks run on a dedicated goroutine in publication order. Events are
// buffered; a callback that falls far behind misses intermediate events.
// A panicking callback is logged and recovered.
func WithEventCallback(cb func(Event)) Option {
	return func(cfg *syncConfig) error {
		if cb == nil {
			return errors.New("event callback cannot be nil")
		}
		cfg.eventCbs = append(cfg.eventCbs, cb)
		return nil
	}
}
