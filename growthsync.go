package growthsync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/upnest/growthsync/convergence"
	"github.com/upnest/growthsync/internal/growthapi"
	"github.com/upnest/growthsync/internal/recalc"
	"github.com/upnest/growthsync/internal/store"
)

// Syncer writes growth data and waits until the server has recomputed the
// derived percentiles.
//
// Syncer is created using [New] with functional options. Each write call
// blocks until its outcome is known:
//
//	s, err := growthsync.New(growthsync.WithBaseURL(base))
//	if err != nil {
//	    slog.Error("failed to create syncer", "error", err)
//	    os.Exit(1)
//	}
//	defer s.Close()
//
//	weight := 4.2
//	out, err := s.UpdateMeasurement(ctx, dataID, growthsync.MeasurementPatch{
//	    Measurements: growthsync.Values{growthsync.FieldWeight: weight},
//	})
//
// Syncer is safe for concurrent use. Writes to different targets proceed
// independently; a write to a target that is still waiting supersedes the
// earlier write, which returns [ErrSuperseded].
type Syncer struct {
	api       *growthapi.Client
	coord     *recalc.Coordinator
	store     *store.MemoryStore
	tolerance float64
	logger    *slog.Logger

	outcomeCbs []func(Outcome)
	eventCbs   []func(Event)

	events    <-chan store.Event
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a new [Syncer] with the given options.
//
// [WithBaseURL] is required. Other options have defaults:
//   - Interval: 1 second
//   - Max retries: 10
//   - Backoff factor: 2, with jitter
//   - Tolerance: 0.01
//   - Write retries: 3
//
// Returns an error if the base URL is missing or any option is invalid.
func New(opts ...Option) (*Syncer, error) {
	cfg := &syncConfig{
		interval:        recalc.DefaultInterval,
		maxRetries:      recalc.DefaultMaxRetries,
		backoffFactor:   recalc.DefaultBackoffFactor,
		jitter:          true,
		leading:         true,
		pauseWhenHidden: true,
		tolerance:       convergence.DefaultTolerance,
		writeRetries:    recalc.DefaultWriteRetries,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.baseURL == "" {
		return nil, errBaseURLRequired
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	api, err := growthapi.NewClient(cfg.baseURL, clientOptions(cfg, logger)...)
	if err != nil {
		return nil, err
	}

	events := store.NewMemoryStore()
	coord, err := recalc.New(coordinatorOptions(cfg, events, logger)...)
	if err != nil {
		return nil, err
	}

	s := &Syncer{
		api:        api,
		coord:      coord,
		store:      events,
		tolerance:  cfg.tolerance,
		logger:     logger,
		outcomeCbs: cfg.outcomeCbs,
		eventCbs:   cfg.eventCbs,
	}

	if len(s.eventCbs) > 0 {
		s.events = events.Subscribe()
		s.wg.Add(1)
		go s.forwardEvents()
	}

	return s, nil
}

func clientOptions(cfg *syncConfig, logger *slog.Logger) []growthapi.ClientOption {
	opts := []growthapi.ClientOption{
		growthapi.WithClientLogger(logger),
		growthapi.WithDebug(cfg.debug),
	}
	if cfg.token != "" {
		opts = append(opts, growthapi.WithToken(cfg.token))
	}
	if cfg.userAgent != "" {
		opts = append(opts, growthapi.WithUserAgent(cfg.userAgent))
	}
	if cfg.requestTimeout > 0 {
		opts = append(opts, growthapi.WithTimeout(cfg.requestTimeout))
	}
	if cfg.transport != nil {
		opts = append(opts, growthapi.WithTransport(cfg.transport))
	}
	return opts
}

func coordinatorOptions(cfg *syncConfig, s store.Store, logger *slog.Logger) []recalc.Option {
	opts := []recalc.Option{
		recalc.WithInterval(cfg.interval),
		recalc.WithMaxRetries(cfg.maxRetries),
		recalc.WithBackoffFactor(cfg.backoffFactor),
		recalc.WithJitter(cfg.jitter),
		recalc.WithLeading(cfg.leading),
		recalc.WithPauseWhenHidden(cfg.pauseWhenHidden),
		recalc.WithTolerance(cfg.tolerance),
		recalc.WithWriteRetries(cfg.writeRetries),
		recalc.WithStore(s),
		recalc.WithLogger(logger),
	}
	if cfg.gate != nil {
		opts = append(opts, recalc.WithVisibilityGate(cfg.gate))
	}
	if cfg.writeInitial > 0 {
		opts = append(opts, recalc.WithWriteBackoff(cfg.writeInitial, cfg.writeMax))
	}
	return opts
}

// MeasurementTarget returns the target name of writes to a measurement.
func MeasurementTarget(dataID string) string {
	return "measurement:" + dataID
}

// BabyTarget returns the target name of writes to a baby profile.
func BabyTarget(babyID string) string {
	return "baby:" + babyID
}

// Phase returns the current phase of target. Targets without a write in
// progress are idle.
func (s *Syncer) Phase(target string) Phase {
	return Phase(s.coord.Phase(target))
}

// Events returns the latest event of every target written so far, sorted by
// target.
func (s *Syncer) Events() []Event {
	all := s.store.GetAll()
	out := make([]Event, len(all))
	for i, e := range all {
		out[i] = storeEventToPublic(e)
	}
	return out
}

// Cancel stops waiting for target. The pending write call returns the
// context cancellation error.
func (s *Syncer) Cancel(target string) {
	s.coord.Cancel(target)
}

// Close cancels every write in progress and releases resources. Writes
// after Close fail. Close is idempotent.
func (s *Syncer) Close() {
	s.closeOnce.Do(func() {
		s.coord.Close()
		if s.events != nil {
			// closes the channel and ends forwardEvents
			s.store.Unsubscribe(s.events)
		}
		s.wg.Wait()
	})
}

func (s *Syncer) forwardEvents() {
	defer s.wg.Done()
	for e := range s.events {
		ev := storeEventToPublic(e)
		for _, cb := range s.eventCbs {
			invokeCallbackSafe(cb, ev, "event", ev.Target, s.logger)
		}
	}
}

// outcomeOf converts a coordinator result to an [Outcome].
func outcomeOf(res recalc.Result, started time.Time, err error) Outcome {
	return Outcome{
		OperationID: res.OperationID,
		Target:      res.Target,
		Phase:       Phase(res.Phase),
		Scope:       Scope(res.Scope),
		Attempts:    res.Attempts,
		StartedAt:   started,
		FinishedAt:  time.Now(),
		Err:         err,
	}
}

// rejected builds the outcome of a write that never reached the server.
func rejected(target string, started time.Time, err error) Outcome {
	return Outcome{
		Target:     target,
		Phase:      PhaseIdle,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Err:        err,
	}
}

// complete logs out and hands it to the outcome callbacks.
func (s *Syncer) complete(out Outcome) (Outcome, error) {
	logAttrs := []any{
		"target", out.Target,
		"phase", out.Phase.String(),
		"attempts", out.Attempts,
		"duration_ms", out.FinishedAt.Sub(out.StartedAt).Milliseconds(),
	}
	if out.Err != nil {
		s.logger.Warn("write finished with error", append(logAttrs, "error", out.Err.Error())...)
	} else {
		s.logger.Debug("write finished", logAttrs...)
	}

	for _, cb := range s.outcomeCbs {
		invokeCallbackSafe(cb, out, "outcome", out.Target, s.logger)
	}
	return out, out.Err
}

// invokeCallbackSafe calls a callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe[T any](cb func(T), v T, kind, target string, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(kind+" callback panicked",
				"panic", r,
				"target", target,
			)
		}
	}()
	cb(v)
}
