package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// blockUntilTimers waits until the fake clock has n pending timers.
func blockUntilTimers(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("timeout waiting for %d pending timers: %v", n, err)
	}
}

type counter struct {
	n int
}

// TestScheduler_StopsWhenConditionMet runs a probe returning an increasing
// count and stops once the count reaches five.
func TestScheduler_StopsWhenConditionMet(t *testing.T) {
	var calls atomic.Int32
	probe := func(ctx context.Context) (counter, error) {
		return counter{n: int(calls.Add(1))}, nil
	}

	var successes atomic.Int32
	var final atomic.Int32
	s, err := New(probe, 10*time.Millisecond, Hooks[counter]{
		StopCondition: func(c counter, _ int) bool { return c.n >= 5 },
		OnSuccess: func(c counter) {
			successes.Add(1)
			final.Store(int32(c.n))
		},
	}, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool { return successes.Load() == 1 }, "success callback")

	// give a stray cycle a chance to show up
	time.Sleep(50 * time.Millisecond)

	if got := calls.Load(); got != 5 {
		t.Errorf("probe calls = %d, want 5", got)
	}
	if got := final.Load(); got != 5 {
		t.Errorf("OnSuccess result = %d, want 5", got)
	}

	st := s.State()
	if st.Running || st.Fetching {
		t.Errorf("State() running=%v fetching=%v, want both false", st.Running, st.Fetching)
	}
	if !st.HasData || st.Data.n != 5 {
		t.Errorf("State().Data = %+v (has=%v), want n=5", st.Data, st.HasData)
	}
}

// TestScheduler_SuccessCallbackFiresOnce verifies the at-most-once guarantee
// even when the session is ticked or restarted afterwards.
func TestScheduler_SuccessCallbackFiresOnce(t *testing.T) {
	var calls atomic.Int32
	probe := func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}

	var successes atomic.Int32
	s, err := New(probe, 10*time.Millisecond, Hooks[int]{
		StopCondition: func(int, int) bool { return true },
		OnSuccess:     func(int) { successes.Add(1) },
	}, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Start(context.Background())
	waitFor(t, time.Second, func() bool { return successes.Load() == 1 }, "first success")

	s.Tick() // not running, must be a no-op
	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("probe calls after Tick = %d, want 1", got)
	}

	s.Start(context.Background())
	waitFor(t, time.Second, func() bool { return calls.Load() == 2 }, "second session cycle")
	waitFor(t, time.Second, func() bool { return !s.State().Running }, "second stop")

	if got := successes.Load(); got != 1 {
		t.Errorf("OnSuccess calls = %d, want 1", got)
	}
}

// TestScheduler_StopConditionSeesAttempt verifies the stop condition receives
// the consecutive error count plus one.
func TestScheduler_StopConditionSeesAttempt(t *testing.T) {
	var calls atomic.Int32
	probe := func(ctx context.Context) (int, error) {
		if calls.Add(1) <= 2 {
			return 0, errors.New("not yet")
		}
		return 1, nil
	}

	attempts := make(chan int, 1)
	s, err := New(probe, 5*time.Millisecond, Hooks[int]{
		StopCondition: func(_ int, attempt int) bool {
			attempts <- attempt
			return true
		},
	}, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	select {
	case got := <-attempts:
		if got != 3 {
			t.Errorf("attempt = %d, want 3", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stop condition")
	}

	waitFor(t, time.Second, func() bool { return !s.State().Running }, "stop")
	if n := s.State().ConsecutiveErrors; n != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0 after success", n)
	}
}

// TestScheduler_MaxRetries verifies that an always-failing probe is invoked
// exactly maxRetries times before the policy ends the session.
func TestScheduler_MaxRetries(t *testing.T) {
	probeErr := errors.New("backend unavailable")
	var calls atomic.Int32
	probe := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, probeErr
	}

	var errorCounts []int
	var mu sync.Mutex
	terminated := make(chan *PolicyTerminatedError, 1)

	s, err := New(probe, 5*time.Millisecond, Hooks[int]{
		OnError: func(err error, n int) {
			mu.Lock()
			errorCounts = append(errorCounts, n)
			mu.Unlock()
		},
		OnTerminate: func(err *PolicyTerminatedError) { terminated <- err },
	}, WithMaxRetries(3), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Start(context.Background())

	var perr *PolicyTerminatedError
	select {
	case perr = <-terminated:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for termination")
	}

	time.Sleep(50 * time.Millisecond)

	if got := calls.Load(); got != 3 {
		t.Errorf("probe calls = %d, want 3", got)
	}
	if perr.ConsecutiveErrors != 3 || !errors.Is(perr, probeErr) {
		t.Errorf("PolicyTerminatedError = %+v, want 3 errors wrapping %v", perr, probeErr)
	}

	mu.Lock()
	if len(errorCounts) != 3 || errorCounts[0] != 1 || errorCounts[2] != 3 {
		t.Errorf("OnError counts = %v, want [1 2 3]", errorCounts)
	}
	mu.Unlock()

	st := s.State()
	if st.Running {
		t.Error("State().Running = true after termination")
	}
	var stateErr *PolicyTerminatedError
	if !errors.As(st.Err, &stateErr) {
		t.Errorf("State().Err = %v, want *PolicyTerminatedError", st.Err)
	}

	s.Reset()
	if st := s.State(); st.Err != nil || st.ConsecutiveErrors != 0 {
		t.Errorf("after Reset: Err=%v ConsecutiveErrors=%d, want nil and 0", st.Err, st.ConsecutiveErrors)
	}
}

// TestScheduler_StopOnFirstError verifies that the first failure is terminal
// regardless of maxRetries.
func TestScheduler_StopOnFirstError(t *testing.T) {
	var calls atomic.Int32
	probe := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("boom")
	}

	terminated := make(chan *PolicyTerminatedError, 1)
	s, err := New(probe, 5*time.Millisecond, Hooks[int]{
		OnTerminate: func(err *PolicyTerminatedError) { terminated <- err },
	}, WithMaxRetries(10), WithStopOnFirstError(true), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Start(context.Background())

	select {
	case perr := <-terminated:
		if !perr.FirstError {
			t.Error("FirstError = false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for termination")
	}

	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("probe calls = %d, want 1", got)
	}
}

// TestScheduler_StopMidFlight verifies that stopping while a probe is pending
// triggers neither the success nor the error callback.
func TestScheduler_StopMidFlight(t *testing.T) {
	started := make(chan struct{})
	probe := func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	}

	var callbacks atomic.Int32
	s, err := New(probe, time.Hour, Hooks[int]{
		StopCondition: func(int, int) bool { return true },
		OnSuccess:     func(int) { callbacks.Add(1) },
		OnError:       func(error, int) { callbacks.Add(1) },
	}, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Start(context.Background())
	<-started

	if !s.State().Fetching {
		t.Error("State().Fetching = false while probe pending")
	}

	s.Stop()
	s.Stop() // idempotent

	time.Sleep(50 * time.Millisecond)

	if got := callbacks.Load(); got != 0 {
		t.Errorf("callbacks = %d, want 0", got)
	}
	st := s.State()
	if st.Running || st.Fetching || st.ConsecutiveErrors != 0 {
		t.Errorf("State() = %+v, want idle with no errors", st)
	}
}

// TestScheduler_TickSupersedesInFlightProbe verifies that forcing a cycle
// cancels the pending probe without counting it as a failure.
func TestScheduler_TickSupersedesInFlightProbe(t *testing.T) {
	var calls atomic.Int32
	firstStarted := make(chan struct{})
	probe := func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			close(firstStarted)
			<-ctx.Done()
			return 0, ErrCancelled
		}
		return 2, nil
	}

	var errorsSeen atomic.Int32
	done := make(chan int, 1)
	s, err := New(probe, time.Hour, Hooks[int]{
		StopCondition: func(int, int) bool { return true },
		OnSuccess:     func(v int) { done <- v },
		OnError:       func(error, int) { errorsSeen.Add(1) },
	}, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Start(context.Background())
	<-firstStarted
	s.Tick()

	select {
	case v := <-done:
		if v != 2 {
			t.Errorf("OnSuccess result = %d, want 2", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for superseding cycle")
	}

	if got := errorsSeen.Load(); got != 0 {
		t.Errorf("OnError calls = %d, want 0", got)
	}
}

// TestScheduler_ParentContextCancellation verifies that cancelling the
// context passed to Start tears the session down.
func TestScheduler_ParentContextCancellation(t *testing.T) {
	probe := func(ctx context.Context) (int, error) { return 0, nil }

	s, err := New(probe, 5*time.Millisecond, Hooks[int]{}, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	waitFor(t, time.Second, func() bool { return !s.State().Running }, "stop after cancel")
}

// TestScheduler_LeadingFalseWaitsOneInterval uses a fake clock to verify the
// first cycle fires only after one base interval.
func TestScheduler_LeadingFalseWaitsOneInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	probe := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, nil
	}

	s, err := New(probe, time.Minute, Hooks[int]{},
		WithLeading(false), WithClock(clock), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	blockUntilTimers(t, clock, 1)
	if got := calls.Load(); got != 0 {
		t.Fatalf("probe calls before interval = %d, want 0", got)
	}

	clock.Advance(time.Minute)
	waitFor(t, time.Second, func() bool { return calls.Load() == 1 }, "first cycle")
}

// TestScheduler_BackoffEscalatesOnFailure uses a fake clock to verify that
// failures are rescheduled at base * factor^consecutiveErrors.
func TestScheduler_BackoffEscalatesOnFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	probe := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("unavailable")
	}

	s, err := New(probe, time.Second, Hooks[int]{},
		WithBackoffFactor(2), WithClock(clock), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	// first failure: next cycle after 2s
	waitFor(t, time.Second, func() bool { return calls.Load() == 1 }, "first cycle")
	blockUntilTimers(t, clock, 1)

	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("probe calls after 1s = %d, want 1", got)
	}

	clock.Advance(time.Second)
	waitFor(t, time.Second, func() bool { return calls.Load() == 2 }, "second cycle at 2s")

	// second failure: next cycle after 4s
	blockUntilTimers(t, clock, 1)
	clock.Advance(3 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 2 {
		t.Fatalf("probe calls after 3s = %d, want 2", got)
	}

	clock.Advance(time.Second)
	waitFor(t, time.Second, func() bool { return calls.Load() == 3 }, "third cycle at 4s")

	waitFor(t, time.Second, func() bool { return s.State().ConsecutiveErrors == 3 }, "third failure committed")
}

// TestScheduler_PausesWhileHidden verifies that cycles are deferred while the
// host is hidden, without consuming attempts, and resume immediately once it
// becomes observable again.
func TestScheduler_PausesWhileHidden(t *testing.T) {
	clock := clockwork.NewFakeClock()
	gate := NewManualGate(true)

	var calls atomic.Int32
	probe := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, nil
	}

	s, err := New(probe, time.Minute, Hooks[int]{},
		WithClock(clock), WithVisibilityGate(gate), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return calls.Load() == 1 }, "leading cycle")
	blockUntilTimers(t, clock, 1)

	// hidden mid-wait
	gate.Set(false)

	clock.Advance(time.Minute)
	blockUntilTimers(t, clock, 1) // deferred cycle re-armed at base interval
	clock.Advance(time.Minute)
	blockUntilTimers(t, clock, 1)

	if got := calls.Load(); got != 1 {
		t.Fatalf("probe calls while hidden = %d, want 1", got)
	}
	st := s.State()
	if !st.Running || st.ConsecutiveErrors != 0 {
		t.Fatalf("State() while hidden = %+v, want running without errors", st)
	}

	// visible again: fires without advancing the clock
	gate.Set(true)
	waitFor(t, time.Second, func() bool { return calls.Load() == 2 }, "immediate resume")
}

// TestScheduler_PauseDisabledIgnoresGate verifies that the gate is ignored
// when pause-when-hidden is off.
func TestScheduler_PauseDisabledIgnoresGate(t *testing.T) {
	gate := NewManualGate(false)
	var calls atomic.Int32
	probe := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, nil
	}

	s, err := New(probe, 5*time.Millisecond, Hooks[int]{},
		WithPauseWhenHidden(false), WithVisibilityGate(gate), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return calls.Load() >= 3 }, "cycles while hidden")
}

// TestScheduler_SetEnabled verifies the enabled lifecycle binding.
func TestScheduler_SetEnabled(t *testing.T) {
	var calls atomic.Int32
	probe := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, nil
	}

	s, err := New(probe, time.Hour, Hooks[int]{}, WithEnabled(false), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	if s.State().Running || calls.Load() != 0 {
		t.Fatal("disabled scheduler must ignore Start")
	}

	s.SetEnabled(context.Background(), true)
	waitFor(t, time.Second, func() bool { return calls.Load() == 1 }, "cycle after enable")

	s.SetEnabled(context.Background(), false)
	if s.State().Running {
		t.Error("State().Running = true after disable")
	}
}

// TestScheduler_CallbackPanicRecovery verifies that panicking callbacks and
// probes do not crash the loop.
func TestScheduler_CallbackPanicRecovery(t *testing.T) {
	var calls atomic.Int32
	probe := func(ctx context.Context) (int, error) {
		switch calls.Add(1) {
		case 1:
			panic("probe exploded")
		case 2:
			return 0, errors.New("plain failure")
		default:
			return 3, nil
		}
	}

	var errMessages []string
	var mu sync.Mutex
	s, err := New(probe, 5*time.Millisecond, Hooks[int]{
		StopCondition: func(v int, _ int) bool { return v == 3 },
		OnError: func(err error, _ int) {
			mu.Lock()
			errMessages = append(errMessages, err.Error())
			mu.Unlock()
			panic("error callback exploded")
		},
		OnSuccess: func(int) { panic("success callback exploded") },
	}, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 3 && !s.State().Running }, "recovery and success")

	mu.Lock()
	defer mu.Unlock()
	if len(errMessages) != 2 {
		t.Fatalf("OnError calls = %d, want 2", len(errMessages))
	}
	if want := "correlation_id"; !strings.Contains(errMessages[0], want) {
		t.Errorf("panic error = %q, want it to contain %q", errMessages[0], want)
	}
}

func TestNew_Validation(t *testing.T) {
	probe := func(ctx context.Context) (int, error) { return 0, nil }

	tests := []struct {
		name     string
		probe    Probe[int]
		interval time.Duration
		opts     []Option
	}{
		{name: "nil probe", probe: nil, interval: time.Second},
		{name: "zero interval", probe: probe, interval: 0},
		{name: "zero max retries", probe: probe, interval: time.Second, opts: []Option{WithMaxRetries(0)}},
		{name: "factor below one", probe: probe, interval: time.Second, opts: []Option{WithBackoffFactor(0.9)}},
		{name: "nil gate", probe: probe, interval: time.Second, opts: []Option{WithVisibilityGate(nil)}},
		{name: "nil clock", probe: probe, interval: time.Second, opts: []Option{WithClock(nil)}},
		{name: "nil logger", probe: probe, interval: time.Second, opts: []Option{WithLogger(nil)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.probe, tt.interval, Hooks[int]{}, tt.opts...); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

// TestNew_AppliesOptions verifies options reach the session and every session
// gets its own identifier.
func TestNew_AppliesOptions(t *testing.T) {
	probe := func(ctx context.Context) (int, error) { return 0, nil }

	a, err := New(probe, time.Second, Hooks[int]{}, WithBackoffFactor(3), WithJitter(true), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b, err := New(probe, time.Second, Hooks[int]{}, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("ID() = %q and %q, want distinct non-empty identifiers", a.ID(), b.ID())
	}
	if got := a.policy.Factor(); got != 3 {
		t.Errorf("Factor() = %v, want 3", got)
	}
	if !a.policy.Jitter() {
		t.Error("Jitter() = false, want true")
	}
	if got := b.policy.Factor(); got != 1 {
		t.Errorf("default Factor() = %v, want 1", got)
	}
}
