package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/upnest/growthsync"
	"github.com/upnest/growthsync/config"
)

// newLogger creates a JSON logger for CLI use.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// newSyncer loads the config named by --config and builds a Syncer from it.
func newSyncer(cmd *cobra.Command) (*growthsync.Syncer, *slog.Logger, error) {
	configFile, _ := cmd.Flags().GetString("config")
	if configFile == "" {
		return nil, nil, errors.New(`required flag "config" not set`)
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Log.SlogLevel()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger := newLogger(level)

	opts := append(config.BuildOptions(cfg), growthsync.WithLogger(logger))
	s, err := growthsync.New(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create syncer: %w", err)
	}
	return s, logger, nil
}

// runWrite runs write with signal handling and reports its outcome.
//
// Converged and idle outcomes succeed. A timeout is reported as a warning
// and succeeds too, since the write itself was saved. Everything else fails.
func runWrite(cmd *cobra.Command, write func(ctx context.Context, s *growthsync.Syncer) (growthsync.Outcome, error)) error {
	s, logger, err := newSyncer(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	// cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := write(ctx, s)
	printOutcome(cmd.OutOrStdout(), out)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, growthsync.ErrConvergenceTimeout):
		logger.Warn("saved, not yet confirmed", "target", out.Target, "attempts", out.Attempts)
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: saved, but recomputed values are not visible yet")
		return nil
	default:
		return err
	}
}

func printOutcome(w io.Writer, out growthsync.Outcome) {
	if out.OperationID == "" {
		return
	}

	fmt.Fprintf(w, "%s: %s", out.Target, out.Phase)
	if out.Scope != "" {
		fmt.Fprintf(w, " (%s, %d checks)", out.Scope, out.Attempts)
	}
	fmt.Fprintln(w)

	if out.Mode != "" {
		fmt.Fprintf(w, "  mode: %s\n", out.Mode)
	}
	if out.Measurement != nil && len(out.Measurements) == 0 {
		printMeasurement(w, *out.Measurement)
	}
	for _, m := range out.Measurements {
		printMeasurement(w, m)
	}
}

func printMeasurement(w io.Writer, m growthsync.Measurement) {
	fmt.Fprintf(w, "  %s (%s)", m.DataID, m.MeasurementDate)
	fields := make([]string, 0, len(m.Percentiles))
	for f := range m.Percentiles {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		fmt.Fprintf(w, " %s=%v", f, m.Percentiles[f])
	}
	fmt.Fprintln(w)
}
