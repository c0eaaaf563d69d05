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

// UpdateBaby saves patch to the profile babyID and waits for the
// recomputation it triggers.
//
// Changing the date of birth or gender makes the server recompute every
// measurement of the baby; the wait then lasts until every measurement
// present before the write carries a new version. Changing only birth
// values recomputes the birth measurement, which is watched like a
// measurement update. The server's reported mode decides which strategy
// runs; the locally predicted mode only decides which snapshots are taken.
func (s *Syncer) UpdateBaby(ctx context.Context, babyID string, patch BabyPatch) (Outcome, error) {
	target := BabyTarget(babyID)
	started := time.Now()

	if babyID == "" {
		return s.complete(rejected(target, started, errors.New("baby ID is required")))
	}
	if patch.Empty() {
		return s.complete(rejected(target, started, ErrEmptyPatch))
	}

	current, err := s.api.GetBaby(ctx, babyID)
	if err != nil {
		return s.complete(rejected(target, started, fmt.Errorf("snapshot of %s: %w", target, err)))
	}

	var (
		birth atomic.Pointer[Measurement]
		all   atomic.Pointer[[]Measurement]
	)

	req := recalc.Request{Target: target, Scope: recalc.ScopeSingleRecord}

	predicted := patch.PredictedMode(current)
	if predicted != ModeNone {
		list, err := s.api.ListMeasurements(ctx, babyID)
		if err != nil {
			return s.complete(rejected(target, started, fmt.Errorf("snapshot of %s: %w", target, err)))
		}

		versions := make(map[string]string, len(list))
		for _, m := range list {
			// nothing to recompute without raw values
			if len(m.DerivableFields()) == 0 {
				continue
			}
			versions[m.DataID] = m.UpdatedAt
		}
		req.Collection = &recalc.CollectionWait{
			Probe: func(ctx context.Context) ([]recalc.Record, error) {
				ms, err := s.api.ListMeasurements(ctx, babyID)
				if err != nil {
					return nil, err
				}
				all.Store(&ms)
				records := make([]recalc.Record, len(ms))
				for i, m := range ms {
					if m.DataID == current.BirthDataID {
						birth.Store(&ms[i])
					}
					records[i] = measurementRecord(m)
				}
				return records, nil
			},
			Snapshot: convergence.NewCollectionSnapshot(versions, started),
		}
		if predicted == ModeFull {
			req.Scope = recalc.ScopeFullCollection
		}

		if b, ok := findMeasurement(list, current.BirthDataID); ok {
			birthID := b.DataID
			req.Record = &recalc.RecordWait{
				Probe: func(ctx context.Context) (recalc.Record, error) {
					m, err := s.api.GetMeasurement(ctx, birthID)
					if err != nil {
						return recalc.Record{}, err
					}
					birth.Store(&m)
					return measurementRecord(m), nil
				},
				Snapshot: convergence.NewRecordSnapshot(b.UpdatedAt, b.Percentiles, started),
				Fields:   patch.BirthFields(current),
				// the server clears the birth percentiles before recomputing
				Populated: true,
			}
		}
	}

	// written by the write func, which runs on this goroutine
	var (
		updated  *Baby
		reported RecalcMode
	)

	write := func(ctx context.Context) (recalc.Trigger, error) {
		resp, err := s.api.UpdateBaby(ctx, babyID, patch)
		if err != nil {
			return recalc.Trigger{}, err
		}
		b := resp.Baby
		updated = &b
		reported = resp.Mode

		if reported != predicted {
			s.logger.Info("server reported a different recalculation mode",
				"target", target, "predicted", string(predicted), "reported", string(reported))
		}

		switch reported {
		case ModeFull:
			if req.Collection == nil {
				s.logger.Warn("full recalculation reported without a snapshot, not waiting", "target", target)
				return recalc.Trigger{}, nil
			}
			return recalc.Trigger{Recalculate: true, Scope: recalc.ScopeFullCollection}, nil
		case ModeBirthOnly:
			if req.Record == nil {
				s.logger.Warn("birth recalculation reported without a birth measurement, not waiting", "target", target)
				return recalc.Trigger{}, nil
			}
			trigger := recalc.Trigger{Recalculate: true, Scope: recalc.ScopeSingleRecord}
			if m, ok := findMeasurement(resp.Measurements, current.BirthDataID); ok &&
				len(req.Record.Fields) > 0 && convergence.AllPresent(m.Percentiles, req.Record.Fields) {
				trigger.Expected = m.Percentiles
			}
			return trigger, nil
		default:
			return recalc.Trigger{}, nil
		}
	}

	res, err := s.coord.Run(ctx, req, write)
	out := outcomeOf(res, started, err)
	out.Baby = updated
	out.Mode = reported
	out.Measurement = birth.Load()
	if ms := all.Load(); ms != nil {
		out.Measurements = *ms
	}
	return s.complete(out)
}

func findMeasurement(ms []Measurement, dataID string) (Measurement, bool) {
	if dataID == "" {
		return Measurement{}, false
	}
	for _, m := range ms {
		if m.DataID == dataID {
			return m, true
		}
	}
	return Measurement{}, false
}
