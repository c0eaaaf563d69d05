// Standalone fake growth-data API for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/growthsync measurement update demo-2m --weight 5600 -c example/config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/upnest/growthsync/internal/mockapi"
)

func main() {
	addr := flag.String("addr", ":9999", "listen address")
	delay := flag.Duration("delay", 2*time.Second, "delay before percentiles are recomputed")
	stagger := flag.Duration("stagger", 500*time.Millisecond, "extra delay per record in full recomputations")
	echo := flag.Bool("echo", false, "return computed percentiles in write responses")
	failReads := flag.Int("fail-reads", 0, "fail the first N reads with 503")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	srv := mockapi.New(
		mockapi.WithDelay(*delay),
		mockapi.WithStagger(*stagger),
		mockapi.WithEchoPercentiles(*echo),
		mockapi.WithFailingReads(*failReads),
		mockapi.WithLogger(logger),
	)
	srv.SeedDemo()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bound, err := srv.ListenAndServe(ctx, *addr)
	if err != nil {
		logger.Error("failed to start mock server", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Mock growth API listening on %s\n", bound)
	fmt.Printf("  baby:         %s\n", mockapi.DemoBabyID)
	fmt.Printf("  measurements: %s, %s\n", mockapi.DemoBirthID, mockapi.DemoLaterID)
	fmt.Printf("  recompute:    after %s\n", *delay)
	fmt.Println("Press Ctrl+C to stop")

	<-ctx.Done()
	logger.Info("mock server stopped")
}
