// Package growthsync writes baby growth data to a remote API and waits,
// resiliently, until the server has recomputed the derived percentiles.
//
// Saving a measurement or a baby profile triggers an asynchronous
// recomputation on the server. The write response arrives before the new
// percentiles are persisted, so reading the record right away shows stale
// values. A [Syncer] hides that gap: it snapshots the affected records before
// writing, then polls until the recomputed values are observable or a retry
// budget runs out.
//
// # Quick Start
//
//	s, err := growthsync.New(
//	    growthsync.WithBaseURL("https://api.example.com/v1"),
//	    growthsync.WithToken(os.Getenv("GROWTH_API_TOKEN")),
//	)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	out, err := s.UpdateMeasurement(ctx, dataID, growthsync.MeasurementPatch{
//	    Measurements: growthsync.Values{growthsync.FieldWeight: 4.2},
//	})
//	switch {
//	case errors.Is(err, growthsync.ErrConvergenceTimeout):
//	    // saved, but the percentiles are not visible yet
//	case err != nil:
//	    return err
//	}
//	fmt.Println(out.Measurement.Percentiles)
//
// # Convergence
//
// A measurement update is confirmed once the record's version marker moved
// and every affected percentile either equals the value the server reported
// in the write response or differs from the snapshot. A baby profile update
// that changes the date of birth or gender is confirmed once every
// measurement of the baby carries a new version marker and a full set of
// percentiles. Updates of birth values are watched on the birth measurement
// only.
//
// Checks start right after the write and repeat at [WithInterval]. Failing
// checks escalate the delay by [WithBackoffFactor] with ±20% jitter; the
// delay resets after a successful check. While a [poller.VisibilityGate]
// reports the host as hidden, checks pause without consuming the budget.
//
// # Architecture
//
//   - poller: generic polling scheduler with backoff and visibility gating
//   - convergence: tolerant value comparison and pre-write snapshots
//   - internal/recalc: write-then-wait coordination and phase tracking
//   - internal/growthapi: REST client of the growth-data API
//   - internal/store: latest phase per target with pub/sub
//   - internal/mockapi: in-process fake API used by tests and the example
//
// The internal packages are not part of the public API and may change
// without notice.
package growthsync
