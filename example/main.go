package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/upnest/growthsync"
	"github.com/upnest/growthsync/internal/mockapi"
	"github.com/upnest/growthsync/poller"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// in-process fake API that recomputes percentiles after 1.5s
	mock := mockapi.New(
		mockapi.WithDelay(1500*time.Millisecond),
		mockapi.WithStagger(300*time.Millisecond),
		mockapi.WithLogger(logger),
	)
	mock.SeedDemo()
	addr, err := mock.ListenAndServe(ctx, "127.0.0.1:0")
	if err != nil {
		slog.Error("failed to start mock API", "error", err)
		os.Exit(1)
	}

	// a terminal has no window to hide; drive the gate by hand instead
	gate := poller.NewManualGate(true)

	s, err := growthsync.New(
		growthsync.WithBaseURL("http://"+addr.String()),
		growthsync.WithInterval(400*time.Millisecond),
		growthsync.WithMaxRetries(12),
		growthsync.WithVisibilityGate(gate),
		growthsync.WithLogger(logger),
		growthsync.WithEventCallback(func(e growthsync.Event) {
			if e.Phase.Terminal() {
				fmt.Printf("  [%s] %s after %d checks\n", e.Target, e.Phase, e.Attempt)
				return
			}
			fmt.Printf("  [%s] %-20s attempt=%d\n", e.Target, e.Phase, e.Attempt)
		}),
	)
	if err != nil {
		slog.Error("failed to create syncer", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	fmt.Println("1. update a weight and wait for its percentile")
	weight := 5600.0
	out, err := s.UpdateMeasurement(ctx, mockapi.DemoLaterID, growthsync.MeasurementPatch{
		Measurements: growthsync.Values{growthsync.FieldWeight: weight},
	})
	report(out, err)

	fmt.Println("2. change the gender and wait for every measurement")
	gender := "male"
	out, err = s.UpdateBaby(ctx, mockapi.DemoBabyID, growthsync.BabyPatch{Gender: &gender})
	report(out, err)

	fmt.Println("3. hide the host for a second while waiting on the birth record")
	go func() {
		gate.Set(false)
		time.Sleep(time.Second)
		gate.Set(true)
	}()
	birthWeight := 3500.0
	out, err = s.UpdateBaby(ctx, mockapi.DemoBabyID, growthsync.BabyPatch{BirthWeight: &birthWeight})
	report(out, err)
}

func report(out growthsync.Outcome, err error) {
	switch {
	case errors.Is(err, growthsync.ErrConvergenceTimeout):
		fmt.Printf("   saved, not yet confirmed after %d checks\n\n", out.Attempts)
		return
	case err != nil:
		fmt.Printf("   failed: %v\n\n", err)
		return
	}

	fmt.Printf("   %s in %s after %d checks\n", out.Phase, out.FinishedAt.Sub(out.StartedAt).Round(time.Millisecond), out.Attempts)
	if out.Measurement != nil && len(out.Measurements) == 0 {
		fmt.Printf("   %s percentiles: %v\n", out.Measurement.DataID, out.Measurement.Percentiles)
	}
	for _, m := range out.Measurements {
		fmt.Printf("   %s percentiles: %v\n", m.DataID, m.Percentiles)
	}
	fmt.Println()
}
