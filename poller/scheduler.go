package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Probe observes remote state once.
//
// A probe must honor ctx: when ctx is cancelled it should return promptly with
// an error satisfying errors.Is(err, context.Canceled) or [ErrCancelled].
// Any other error is a failure and is retried according to the policy.
type Probe[T any] func(ctx context.Context) (T, error)

// StopCondition decides, after a successful probe, whether polling ends in
// success. attempt is the consecutive error count at evaluation plus one.
type StopCondition[T any] func(result T, attempt int) bool

// Hooks are the caller-supplied callbacks of a [Scheduler]. All fields are
// optional. Panics raised by callbacks are recovered and logged.
type Hooks[T any] struct {
	// StopCondition is evaluated after every successful probe, before the
	// result is committed. A nil condition never stops.
	StopCondition StopCondition[T]

	// OnSuccess is invoked at most once per scheduler, after the state
	// commit of the cycle whose result satisfied StopCondition.
	OnSuccess func(result T)

	// OnError is invoked after every failed probe with the new consecutive
	// error count.
	OnError func(err error, consecutiveErrors int)

	// OnTerminate is invoked when the retry policy ends the session.
	OnTerminate func(err *PolicyTerminatedError)
}

// State is a snapshot of a scheduler's observable state.
type State[T any] struct {
	// Data is the last successful probe result.
	Data T

	// HasData reports whether Data was ever set.
	HasData bool

	// Err is the last probe failure, or a [*PolicyTerminatedError] once the
	// policy ended the session. Cleared at the start of every cycle.
	Err error

	// Running reports whether the session is scheduling cycles.
	Running bool

	// Fetching reports whether a probe is in flight.
	Fetching bool

	// ConsecutiveErrors counts failures since the last success.
	ConsecutiveErrors int
}

// Scheduler repeatedly invokes a [Probe] until a [StopCondition] holds, the
// retry policy gives up, or the session is stopped.
//
// At most one probe is in flight at any time: starting a cycle cancels any
// predecessor, and the outcome of a cancelled or superseded probe is
// discarded. Successful cycles are rescheduled at the base interval, failures
// at the [BackoffPolicy] delay for the current consecutive error count.
// Cycles that would fire while the [VisibilityGate] reports the host as hidden
// are deferred without touching error or attempt counters.
//
// All methods are safe for concurrent use.
type Scheduler[T any] struct {
	id               string
	probe            Probe[T]
	hooks            Hooks[T]
	interval         time.Duration
	leading          bool
	maxRetries       int
	stopOnFirstError bool
	pauseWhenHidden  bool
	policy           *BackoffPolicy
	clock            clockwork.Clock
	gate             VisibilityGate
	logger           *slog.Logger

	mu          sync.Mutex
	state       State[T]
	enabled     bool
	parent      context.Context
	detach      func() bool
	unsubscribe func()
	timer       clockwork.Timer
	timerSeq    uint64
	cancelProbe context.CancelFunc
	cycleSeq    uint64
	paused      bool
	succeeded   bool
}

// New creates a [Scheduler] for probe with the given base interval.
//
// The scheduler is idle until [Scheduler.Start] is called. Returns an error if
// probe is nil, interval is not positive, or any option is invalid.
func New[T any](probe Probe[T], interval time.Duration, hooks Hooks[T], opts ...Option) (*Scheduler[T], error) {
	if probe == nil {
		return nil, errors.New("probe is required")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}

	cfg := defaultSettings()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.clock == nil {
		cfg.clock = clockwork.NewRealClock()
	}
	if cfg.gate == nil {
		cfg.gate = AlwaysObservable()
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()
	return &Scheduler[T]{
		id:               id,
		probe:            probe,
		hooks:            hooks,
		interval:         interval,
		leading:          cfg.leading,
		maxRetries:       cfg.maxRetries,
		stopOnFirstError: cfg.stopOnFirstError,
		pauseWhenHidden:  cfg.pauseWhenHidden,
		policy:           NewBackoffPolicy(cfg.backoffFactor, cfg.jitter, cfg.randSource),
		clock:            cfg.clock,
		gate:             cfg.gate,
		logger:           logger.With("session_id", id),
		enabled:          cfg.enabled,
	}, nil
}

// ID returns the session identifier used in log records.
func (s *Scheduler[T]) ID() string {
	return s.id
}

// State returns a snapshot of the current state.
func (s *Scheduler[T]) State() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins the session. It is a no-op if the session is already running
// or disabled.
//
// With leading enabled the first cycle fires immediately, otherwise after one
// base interval. Cancelling ctx stops the session as if [Scheduler.Stop] had
// been called. If ctx is nil, context.Background() is used.
func (s *Scheduler[T]) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled || s.state.Running || ctx.Err() != nil {
		return
	}

	s.state.Running = true
	s.parent = ctx
	s.detach = context.AfterFunc(ctx, s.Stop)
	if s.pauseWhenHidden {
		s.unsubscribe = s.gate.OnChange(s.visibilityChanged)
	}

	s.logger.Debug("polling started",
		"interval", s.interval.String(),
		"leading", s.leading,
		"backoff_factor", s.policy.Factor(),
		"jitter", s.policy.Jitter(),
	)

	if s.leading {
		s.fireLocked()
	} else {
		s.scheduleLocked(s.interval)
	}
}

// Stop ends the session: it cancels the in-flight probe and clears pending
// timers. The cancelled probe's outcome triggers no callbacks. Stop is
// idempotent.
func (s *Scheduler[T]) Stop() {
	s.mu.Lock()
	wasRunning := s.state.Running
	s.teardownLocked()
	s.state.Running = false
	s.state.Fetching = false
	s.mu.Unlock()

	if wasRunning {
		s.logger.Debug("polling stopped")
	}
}

// Reset clears the error and the consecutive error count without affecting
// the run state.
func (s *Scheduler[T]) Reset() {
	s.mu.Lock()
	s.state.Err = nil
	s.state.ConsecutiveErrors = 0
	s.mu.Unlock()
}

// Tick forces a cycle to run now, superseding any pending timer and any
// in-flight probe. It is a no-op when the session is not running.
func (s *Scheduler[T]) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Running {
		s.fireLocked()
	}
}

// SetEnabled binds the session lifecycle to a flag: enabling starts the
// session with ctx, disabling stops it.
func (s *Scheduler[T]) SetEnabled(ctx context.Context, enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()

	if enabled {
		s.Start(ctx)
		return
	}
	s.Stop()
}

// fireLocked runs one cycle. Must be called with s.mu held.
func (s *Scheduler[T]) fireLocked() {
	s.stopTimerLocked()
	if !s.state.Running {
		return
	}

	if s.pauseWhenHidden && !s.gate.IsObservable() {
		s.paused = true
		s.logger.Debug("cycle deferred while hidden")
		s.scheduleLocked(s.interval)
		return
	}
	s.paused = false

	if s.cancelProbe != nil {
		s.cancelProbe()
	}
	s.cycleSeq++
	seq := s.cycleSeq
	ctx, cancel := context.WithCancel(s.parent)
	s.cancelProbe = cancel

	s.state.Fetching = true
	s.state.Err = nil

	go s.runCycle(ctx, cancel, seq)
}

// scheduleLocked arms the timer for the next cycle. Must be called with s.mu held.
func (s *Scheduler[T]) scheduleLocked(d time.Duration) {
	s.stopTimerLocked()
	seq := s.timerSeq
	s.timer = s.clock.AfterFunc(d, func() { s.onTimer(seq) })
	s.logger.Debug("next cycle scheduled", "delay", d.String())
}

func (s *Scheduler[T]) onTimer(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// a stopped or re-armed timer may still deliver its callback
	if seq != s.timerSeq || !s.state.Running {
		return
	}
	s.timer = nil
	s.fireLocked()
}

func (s *Scheduler[T]) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
}

// teardownLocked releases timers, the in-flight probe, the parent context
// binding, and the visibility subscription. Must be called with s.mu held.
func (s *Scheduler[T]) teardownLocked() {
	s.stopTimerLocked()
	if s.cancelProbe != nil {
		s.cancelProbe()
		s.cancelProbe = nil
	}
	s.cycleSeq++
	s.paused = false
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

func (s *Scheduler[T]) visibilityChanged(observable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Running {
		return
	}
	if !observable {
		s.paused = true
		return
	}

	// resume right away unless a probe is already in flight
	if s.paused && s.cancelProbe == nil {
		s.logger.Debug("visible again, resuming immediately")
		s.fireLocked()
		return
	}
	s.paused = false
}

func (s *Scheduler[T]) runCycle(ctx context.Context, cancel context.CancelFunc, seq uint64) {
	defer cancel()

	result, err := s.safeProbe(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
			s.handleCancelled(seq)
			return
		}
		s.handleFailure(seq, err)
		return
	}
	s.handleSuccess(seq, result)
}

func (s *Scheduler[T]) handleCancelled(seq uint64) {
	s.mu.Lock()
	if seq == s.cycleSeq {
		s.state.Fetching = false
		s.cancelProbe = nil
	}
	s.mu.Unlock()

	s.logger.Debug("probe cancelled")
}

func (s *Scheduler[T]) handleSuccess(seq uint64, result T) {
	s.mu.Lock()
	if seq != s.cycleSeq || !s.state.Running {
		s.mu.Unlock()
		return
	}
	attempt := s.state.ConsecutiveErrors + 1
	s.mu.Unlock()

	// decide on the fresh result before anything is committed
	stop := s.evaluateStop(result, attempt)

	s.mu.Lock()
	if seq != s.cycleSeq || !s.state.Running {
		s.mu.Unlock()
		return
	}
	s.cancelProbe = nil
	s.state.Data = result
	s.state.HasData = true
	s.state.Fetching = false
	s.state.ConsecutiveErrors = 0

	if !stop {
		s.scheduleLocked(s.policy.Delay(s.interval, 0))
		s.mu.Unlock()
		return
	}

	s.teardownLocked()
	s.state.Running = false
	fire := !s.succeeded && s.hooks.OnSuccess != nil
	s.succeeded = true
	s.mu.Unlock()

	s.logger.Debug("stop condition met", "attempt", attempt)
	if fire {
		s.invokeSafe("on_success", func() { s.hooks.OnSuccess(result) })
	}
}

func (s *Scheduler[T]) handleFailure(seq uint64, err error) {
	s.mu.Lock()
	if seq != s.cycleSeq || !s.state.Running {
		s.mu.Unlock()
		return
	}
	s.cancelProbe = nil
	s.state.Fetching = false
	s.state.ConsecutiveErrors++
	n := s.state.ConsecutiveErrors
	s.state.Err = err
	s.mu.Unlock()

	s.logger.Warn("probe failed", "consecutive_errors", n, "error", err.Error())

	if s.hooks.OnError != nil {
		s.invokeSafe("on_error", func() { s.hooks.OnError(err, n) })
	}

	s.mu.Lock()
	// the callback may have stopped or ticked the session
	if seq != s.cycleSeq || !s.state.Running {
		s.mu.Unlock()
		return
	}

	terminal := s.stopOnFirstError || (s.maxRetries > 0 && n >= s.maxRetries)
	if !terminal {
		s.scheduleLocked(s.policy.Delay(s.interval, n))
		s.mu.Unlock()
		return
	}

	perr := &PolicyTerminatedError{
		ConsecutiveErrors: n,
		FirstError:        s.stopOnFirstError,
		Err:               err,
	}
	s.teardownLocked()
	s.state.Running = false
	s.state.Err = perr
	s.mu.Unlock()

	s.logger.Warn("polling terminated by retry policy", "consecutive_errors", n, "error", err.Error())
	if s.hooks.OnTerminate != nil {
		s.invokeSafe("on_terminate", func() { s.hooks.OnTerminate(perr) })
	}
}

// evaluateStop calls the stop condition with panic recovery. A panicking
// condition is treated as not satisfied.
func (s *Scheduler[T]) evaluateStop(result T, attempt int) (stop bool) {
	if s.hooks.StopCondition == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stop condition panicked",
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			stop = false
		}
	}()
	return s.hooks.StopCondition(result, attempt)
}

// safeProbe calls the probe with panic recovery.
// If the probe panics, it logs the full stack trace with a correlation ID and
// returns an error containing the ID, which counts as a regular failure.
func (s *Scheduler[T]) safeProbe(ctx context.Context) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("probe panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			var zero T
			result = zero
			err = fmt.Errorf("probe panic (correlation_id: %s)", correlationID)
		}
	}()
	return s.probe(ctx)
}

// invokeSafe calls a hook with panic recovery.
// Panics are logged but do not propagate into the scheduling loop.
func (s *Scheduler[T]) invokeSafe(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("callback panicked", "callback", name, "panic", r)
		}
	}()
	fn()
}
