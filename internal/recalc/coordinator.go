package recalc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/upnest/growthsync/internal/store"
	"github.com/upnest/growthsync/poller"
)

// Coordinator runs write operations and waits for their recomputation.
//
// It is safe for concurrent use. Operations on different targets run
// independently; a new operation on a busy target supersedes the old one.
type Coordinator struct {
	cfg    *config
	store  store.Store
	clock  clockwork.Clock
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*operation
	closed bool
}

type operation struct {
	id     string
	phase  Phase
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// New creates a [Coordinator].
func New(opts ...Option) (*Coordinator, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.clock == nil {
		cfg.clock = clockwork.NewRealClock()
	}
	if cfg.store == nil {
		cfg.store = store.NewMemoryStore()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return &Coordinator{
		cfg:    cfg,
		store:  cfg.store,
		clock:  cfg.clock,
		logger: cfg.logger,
		active: make(map[string]*operation),
	}, nil
}

// Store returns the store phase events are published to.
func (c *Coordinator) Store() store.Store {
	return c.store
}

// Phase returns the current phase of target. Targets without an active
// operation are idle.
func (c *Coordinator) Phase(target string) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()

	if op, ok := c.active[target]; ok {
		return op.phase
	}
	return PhaseIdle
}

// Cancel cancels the active operation of target, if any.
func (c *Coordinator) Cancel(target string) {
	c.mu.Lock()
	op, ok := c.active[target]
	c.mu.Unlock()

	if ok {
		op.cancel(context.Canceled)
		<-op.done
	}
}

// Close cancels every active operation and rejects new ones.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	ops := make([]*operation, 0, len(c.active))
	for _, op := range c.active {
		ops = append(ops, op)
	}
	c.mu.Unlock()

	for _, op := range ops {
		op.cancel(context.Canceled)
		<-op.done
	}
}

// Run performs write and, if it triggered a recomputation, waits until the
// recomputed values are observable.
//
// The returned error is nil for idle and converged results. It wraps
// [ErrConvergenceTimeout] for timed-out results, is a [*ProbeFailedError] for
// failed ones, and is [ErrSuperseded] when a newer write to the same target
// took over. Write errors are returned as-is, wrapped with the target.
func (c *Coordinator) Run(ctx context.Context, req Request, write WriteFunc) (Result, error) {
	if err := validate(req, write); err != nil {
		return Result{Phase: PhaseIdle, Target: req.Target}, err
	}

	op, opCtx, err := c.begin(ctx, req.Target)
	if err != nil {
		return Result{Phase: PhaseIdle, Target: req.Target}, err
	}
	defer c.end(req.Target, op)

	logger := c.logger.With("target", req.Target, "operation_id", op.id)
	res := Result{OperationID: op.id, Target: req.Target, Phase: PhaseIdle}

	c.transition(op, req.Target, PhaseSaving, "", 0, nil)
	logger.Info("saving")

	trigger, err := c.save(opCtx, logger, write)
	if err != nil {
		if opCtx.Err() != nil {
			return c.abort(op, res, context.Cause(opCtx))
		}
		err = fmt.Errorf("saving %s: %w", req.Target, err)
		c.transition(op, req.Target, PhaseIdle, "", 0, err)
		logger.Warn("write failed", "error", err.Error())
		return res, err
	}

	if !trigger.Recalculate {
		c.transition(op, req.Target, PhaseIdle, "", 0, nil)
		logger.Info("saved, no recalculation triggered")
		return res, nil
	}

	scope := req.Scope
	if trigger.Scope != "" {
		scope = trigger.Scope
	}
	res.Scope = scope
	logger = logger.With("scope", scope.String())

	switch scope {
	case ScopeSingleRecord:
		if req.Record == nil {
			err := fmt.Errorf("saving %s: server reported %s recalculation without a record probe", req.Target, scope)
			c.transition(op, req.Target, PhaseIdle, scope, 0, err)
			return res, err
		}
		return c.waitRecord(opCtx, op, logger, res, req, trigger)
	case ScopeFullCollection:
		if req.Collection == nil {
			err := fmt.Errorf("saving %s: server reported %s recalculation without a collection probe", req.Target, scope)
			c.transition(op, req.Target, PhaseIdle, scope, 0, err)
			return res, err
		}
		return c.waitCollection(opCtx, op, logger, res, req)
	default:
		err := fmt.Errorf("unknown scope %q", scope)
		c.transition(op, req.Target, PhaseIdle, scope, 0, err)
		return res, err
	}
}

func validate(req Request, write WriteFunc) error {
	switch {
	case req.Target == "":
		return errors.New("target is required")
	case write == nil:
		return errors.New("write is required")
	case req.Scope != ScopeSingleRecord && req.Scope != ScopeFullCollection:
		return fmt.Errorf("unknown scope %q", req.Scope)
	case req.Record != nil && req.Record.Probe == nil:
		return errors.New("record wait requires a probe")
	case req.Collection != nil && req.Collection.Probe == nil:
		return errors.New("collection wait requires a probe")
	}
	return nil
}

// begin registers a new operation for target, superseding and awaiting any
// previous one.
func (c *Coordinator) begin(ctx context.Context, target string) (*operation, context.Context, error) {
	opCtx, cancel := context.WithCancelCause(ctx)
	op := &operation{
		id:     uuid.NewString(),
		phase:  PhaseIdle,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			cancel(context.Canceled)
			return nil, nil, errors.New("coordinator closed")
		}
		prev, busy := c.active[target]
		if !busy {
			c.active[target] = op
			c.mu.Unlock()
			return op, opCtx, nil
		}
		c.mu.Unlock()

		c.logger.Info("superseding previous write", "target", target, "operation_id", prev.id)
		prev.cancel(ErrSuperseded)
		select {
		case <-prev.done:
		case <-ctx.Done():
			cancel(context.Cause(ctx))
			return nil, nil, ctx.Err()
		}
	}
}

func (c *Coordinator) end(target string, op *operation) {
	c.mu.Lock()
	if c.active[target] == op {
		delete(c.active, target)
	}
	c.mu.Unlock()

	op.cancel(context.Canceled)
	close(op.done)
}

// save runs the write, retrying temporary failures with exponential backoff.
func (c *Coordinator) save(ctx context.Context, logger *slog.Logger, write WriteFunc) (Trigger, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.writeInitial
	b.MaxInterval = c.cfg.writeMax
	b.MaxElapsedTime = 0
	b.Clock = c.clock
	b.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.writeRetries)), ctx)

	return backoff.RetryNotifyWithData(func() (Trigger, error) {
		t, err := write(ctx)
		if err != nil && !temporary(err) {
			return t, backoff.Permanent(err)
		}
		return t, err
	}, policy, func(err error, d time.Duration) {
		logger.Warn("write failed, retrying", "delay", d.String(), "error", err.Error())
	})
}

func (c *Coordinator) waitRecord(ctx context.Context, op *operation, logger *slog.Logger, res Result, req Request, trigger Trigger) (Result, error) {
	wait := req.Record
	expected := wait.Expected
	if trigger.Expected != nil {
		expected = trigger.Expected
	}

	// no baseline to compare against
	if len(wait.Fields) == 0 {
		c.transition(op, req.Target, PhaseConverged, res.Scope, 0, nil)
		logger.Info("nothing to compare, accepted immediately")
		res.Phase = PhaseConverged
		return res, nil
	}

	var last atomic.Pointer[Record]
	check := func(r Record, attempt int) bool {
		last.Store(&r)
		converged := recordConverged(r, wait, expected, c.cfg.tolerance)
		logger.Debug("record checked", "attempt", attempt, "version", r.Version, "converged", converged)
		return converged
	}

	out, err := waitFor(ctx, c, op, logger, req.Target, res.Scope, poller.Probe[Record](wait.Probe), check)
	res.Attempts = out.attempts
	if r := last.Load(); r != nil {
		res.Record = r
	}
	return c.finish(op, logger, res, out, err)
}

func (c *Coordinator) waitCollection(ctx context.Context, op *operation, logger *slog.Logger, res Result, req Request) (Result, error) {
	wait := req.Collection

	if wait.Snapshot.Len() == 0 {
		c.transition(op, req.Target, PhaseConverged, res.Scope, 0, nil)
		logger.Info("nothing to compare, accepted immediately")
		res.Phase = PhaseConverged
		return res, nil
	}

	var last atomic.Pointer[[]Record]
	check := func(records []Record, attempt int) bool {
		last.Store(&records)
		converged, changed := collectionConverged(records, wait.Snapshot)
		logger.Debug("collection checked", "attempt", attempt, "changed", changed, "tracked", wait.Snapshot.Len())
		return converged
	}

	out, err := waitFor(ctx, c, op, logger, req.Target, res.Scope, poller.Probe[[]Record](wait.Probe), check)
	res.Attempts = out.attempts
	if r := last.Load(); r != nil {
		res.Records = *r
	}
	return c.finish(op, logger, res, out, err)
}

// outcome is how a wait ended.
type outcome struct {
	phase    Phase
	attempts int
	err      error
}

// waitFor runs one scheduler until check reports convergence, the retry
// budget is spent, the probe fails terminally, or ctx ends.
func waitFor[T any](
	ctx context.Context,
	c *Coordinator,
	op *operation,
	logger *slog.Logger,
	target string,
	scope Scope,
	probe poller.Probe[T],
	check func(result T, attempt int) bool,
) (outcome, error) {
	var attempts atomic.Int32
	var timedOut atomic.Bool
	done := make(chan outcome, 1)

	hooks := poller.Hooks[T]{
		StopCondition: func(result T, _ int) bool {
			// a superseded operation must not publish over its successor
			if ctx.Err() != nil {
				return false
			}
			n := int(attempts.Add(1))
			if check(result, n) {
				return true
			}
			c.transition(op, target, PhaseWaiting, scope, n, nil)
			if n >= c.cfg.maxRetries {
				timedOut.Store(true)
				return true
			}
			return false
		},
		OnSuccess: func(T) {
			n := int(attempts.Load())
			if timedOut.Load() {
				done <- outcome{phase: PhaseTimedOut, attempts: n}
				return
			}
			done <- outcome{phase: PhaseConverged, attempts: n}
		},
		OnError: func(err error, consecutive int) {
			logger.Debug("convergence check failed", "consecutive_errors", consecutive, "error", err.Error())
		},
		OnTerminate: func(perr *poller.PolicyTerminatedError) {
			done <- outcome{phase: PhaseFailed, attempts: int(attempts.Load()), err: perr}
		},
	}

	opts := []poller.Option{
		poller.WithMaxRetries(c.cfg.maxRetries),
		poller.WithBackoffFactor(c.cfg.backoffFactor),
		poller.WithJitter(c.cfg.jitter),
		poller.WithLeading(c.cfg.leading),
		poller.WithPauseWhenHidden(c.cfg.pauseWhenHidden),
		poller.WithClock(c.clock),
		poller.WithLogger(logger),
	}
	if c.cfg.gate != nil {
		opts = append(opts, poller.WithVisibilityGate(c.cfg.gate))
	}

	sched, err := poller.New(probe, c.cfg.interval, hooks, opts...)
	if err != nil {
		return outcome{}, err
	}

	c.transition(op, target, PhaseWaiting, scope, 0, nil)
	logger.Info("waiting for convergence",
		"session_id", sched.ID(),
		"interval", c.cfg.interval.String(),
		"max_retries", c.cfg.maxRetries,
	)

	sched.Start(ctx)
	defer sched.Stop()

	select {
	case out := <-done:
		return out, nil
	case <-ctx.Done():
		return outcome{attempts: int(attempts.Load())}, context.Cause(ctx)
	}
}

func (c *Coordinator) finish(op *operation, logger *slog.Logger, res Result, out outcome, err error) (Result, error) {
	if err != nil {
		if isCancellation(err) {
			return c.abort(op, res, err)
		}
		c.transition(op, res.Target, PhaseIdle, res.Scope, out.attempts, err)
		return res, err
	}

	res.Phase = out.phase
	switch out.phase {
	case PhaseConverged:
		c.transition(op, res.Target, PhaseConverged, res.Scope, out.attempts, nil)
		logger.Info("converged", "attempts", out.attempts)
		return res, nil
	case PhaseTimedOut:
		err := fmt.Errorf("%s: %w after %d checks", res.Target, ErrConvergenceTimeout, out.attempts)
		c.transition(op, res.Target, PhaseTimedOut, res.Scope, out.attempts, err)
		logger.Warn("convergence timed out", "attempts", out.attempts)
		return res, err
	default:
		err := &ProbeFailedError{Target: res.Target, Err: out.err}
		c.transition(op, res.Target, PhaseFailed, res.Scope, out.attempts, err)
		logger.Warn("convergence check failed permanently", "error", err.Error())
		return res, err
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, ErrSuperseded) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// abort ends an operation interrupted by cancellation. A superseded operation
// publishes nothing; the newer operation owns the target's events.
func (c *Coordinator) abort(op *operation, res Result, cause error) (Result, error) {
	res.Phase = PhaseIdle
	if errors.Is(cause, ErrSuperseded) {
		return res, ErrSuperseded
	}
	c.transition(op, res.Target, PhaseIdle, res.Scope, res.Attempts, cause)
	return res, cause
}

// transition records the phase of op and publishes it.
func (c *Coordinator) transition(op *operation, target string, phase Phase, scope Scope, attempt int, err error) {
	c.mu.Lock()
	op.phase = phase
	c.mu.Unlock()

	ev := store.Event{
		Target:      target,
		OperationID: op.id,
		Phase:       phase.String(),
		Scope:       scope.String(),
		Attempt:     attempt,
		At:          c.clock.Now(),
	}
	if err != nil {
		msg := err.Error()
		ev.Error = &msg
	}
	c.store.Publish(ev)
}
