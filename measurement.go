package growthsync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/upnest/growthsync/convergence"
	"github.com/upnest/growthsync/internal/recalc"
)

// UpdateMeasurement saves patch to the measurement dataID and waits until
// the server has recomputed its percentiles.
//
// Before writing, the measurement is fetched to snapshot its current
// percentiles and version. After a write that triggered recomputation the
// measurement is polled until its version moved and every affected
// percentile either matches the value the server reported or differs from
// the snapshot.
//
// The returned [Outcome] carries the most recent view of the measurement.
// The error is nil for idle and converged outcomes. It wraps
// [ErrConvergenceTimeout] when the budget ran out, and is a
// [*ProbeFailedError] when the checks kept failing.
func (s *Syncer) UpdateMeasurement(ctx context.Context, dataID string, patch MeasurementPatch) (Outcome, error) {
	target := MeasurementTarget(dataID)
	started := time.Now()

	if dataID == "" {
		return s.complete(rejected(target, started, errors.New("data ID is required")))
	}
	if patch.Empty() {
		return s.complete(rejected(target, started, ErrEmptyPatch))
	}

	current, err := s.api.GetMeasurement(ctx, dataID)
	if err != nil {
		return s.complete(rejected(target, started, fmt.Errorf("snapshot of %s: %w", target, err)))
	}

	fields := patch.ExpectedFields(current)
	snapshot := convergence.NewRecordSnapshot(current.UpdatedAt, current.Percentiles, started)

	var latest atomic.Pointer[Measurement]

	probe := func(ctx context.Context) (recalc.Record, error) {
		m, err := s.api.GetMeasurement(ctx, dataID)
		if err != nil {
			return recalc.Record{}, err
		}
		latest.Store(&m)
		return measurementRecord(m), nil
	}

	write := func(ctx context.Context) (recalc.Trigger, error) {
		resp, err := s.api.UpdateMeasurement(ctx, dataID, patch)
		if err != nil {
			return recalc.Trigger{}, err
		}
		data := resp.Data
		latest.Store(&data)

		if !resp.Pending() {
			return recalc.Trigger{}, nil
		}
		trigger := recalc.Trigger{Recalculate: true}
		if len(fields) > 0 && convergence.AllPresent(data.Percentiles, fields) {
			if convergence.Matches(data.Percentiles, snapshot.Values(), fields, s.tolerance) {
				// recomputation yields the stored values, so the version never moves
				s.logger.Info("reported percentiles equal stored ones, not waiting", "target", target)
				return recalc.Trigger{}, nil
			}
			trigger.Expected = data.Percentiles
		}
		return trigger, nil
	}

	req := recalc.Request{
		Target: target,
		Scope:  recalc.ScopeSingleRecord,
		Record: &recalc.RecordWait{
			Probe:    probe,
			Snapshot: snapshot,
			Fields:   fields,
		},
	}

	res, err := s.coord.Run(ctx, req, write)
	out := outcomeOf(res, started, err)
	out.Measurement = latest.Load()
	return s.complete(out)
}

// measurementRecord converts a measurement to the coordinator's record view.
func measurementRecord(m Measurement) recalc.Record {
	return recalc.Record{
		ID:       m.DataID,
		Version:  m.UpdatedAt,
		Values:   m.Percentiles,
		Required: m.DerivableFields(),
	}
}
