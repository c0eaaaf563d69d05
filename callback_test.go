package growthsync

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestWithOutcomeCallback_InvokedOncePerWrite(t *testing.T) {
	_, ts := newMockAPI(t)

	var callCount atomic.Int32
	var got Outcome
	s := newTestSyncer(t, ts.URL, WithOutcomeCallback(func(o Outcome) {
		callCount.Add(1)
		got = o
	}))

	out, err := s.UpdateMeasurement(testContext(t), "m-later", weightPatch(6100))
	if err != nil {
		t.Fatalf("UpdateMeasurement() error = %v", err)
	}

	if n := callCount.Load(); n != 1 {
		t.Fatalf("callback invoked %d times, want 1", n)
	}
	if got.OperationID != out.OperationID || got.Phase != out.Phase {
		t.Errorf("callback outcome = %+v, want %+v", got, out)
	}
	if got.FinishedAt.Before(got.StartedAt) {
		t.Errorf("FinishedAt %v before StartedAt %v", got.FinishedAt, got.StartedAt)
	}
}

func TestWithOutcomeCallback_InvokedForRejectedWrites(t *testing.T) {
	_, ts := newMockAPI(t)

	var got Outcome
	s := newTestSyncer(t, ts.URL, WithOutcomeCallback(func(o Outcome) { got = o }))

	_, _ = s.UpdateBaby(testContext(t), "b-1", BabyPatch{})

	if got.Target != BabyTarget("b-1") {
		t.Errorf("Target = %q, want %q", got.Target, BabyTarget("b-1"))
	}
	if got.Err != ErrEmptyPatch {
		t.Errorf("Err = %v, want ErrEmptyPatch", got.Err)
	}
}

func TestWithOutcomeCallback_MultipleInOrder(t *testing.T) {
	_, ts := newMockAPI(t)

	var mu sync.Mutex
	var order []int
	record := func(i int) func(Outcome) {
		return func(Outcome) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
		}
	}

	s := newTestSyncer(t, ts.URL,
		WithOutcomeCallback(record(1)),
		WithOutcomeCallback(record(2)),
		WithOutcomeCallback(record(3)),
	)

	notes := "n"
	if _, err := s.UpdateMeasurement(testContext(t), "m-later", MeasurementPatch{Notes: &notes}); err != nil {
		t.Fatalf("UpdateMeasurement() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("callback order = %v, want [1 2 3]", order)
	}
}

func TestWithOutcomeCallback_PanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	_, ts := newMockAPI(t)

	var after atomic.Bool
	s := newTestSyncer(t, ts.URL,
		WithLogger(logger),
		WithOutcomeCallback(func(Outcome) { panic("boom") }),
		WithOutcomeCallback(func(Outcome) { after.Store(true) }),
	)

	notes := "n"
	out, err := s.UpdateMeasurement(testContext(t), "m-later", MeasurementPatch{Notes: &notes})
	if err != nil {
		t.Fatalf("UpdateMeasurement() error = %v", err)
	}
	if out.Phase != PhaseIdle {
		t.Errorf("Phase = %q, want idle", out.Phase)
	}
	if !after.Load() {
		t.Error("callback after the panicking one should still run")
	}
	if !strings.Contains(buf.String(), "outcome callback panicked") {
		t.Errorf("log output = %q, want panic log line", buf.String())
	}
}

func TestWithEventCallback_ReceivesTransitions(t *testing.T) {
	_, ts := newMockAPI(t)

	var mu sync.Mutex
	var phases []Phase
	s := newTestSyncer(t, ts.URL, WithEventCallback(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, e.Phase)
	}))

	if _, err := s.UpdateMeasurement(testContext(t), "m-later", weightPatch(6100)); err != nil {
		t.Fatalf("UpdateMeasurement() error = %v", err)
	}

	// drains pending events
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(phases) < 3 {
		t.Fatalf("phases = %v, want at least saving, waiting, converged", phases)
	}
	if phases[0] != PhaseSaving {
		t.Errorf("first phase = %q, want %q", phases[0], PhaseSaving)
	}
	if phases[len(phases)-1] != PhaseConverged {
		t.Errorf("last phase = %q, want %q", phases[len(phases)-1], PhaseConverged)
	}
}
