// Package recalc coordinates writes that trigger asynchronous server-side
// recomputation and waits until the recomputed values are observable.
//
// Each write operation moves through the phases
//
//	idle -> saving -> waiting_convergence -> converged | timed_out | failed -> idle
//
// The write itself runs in the saving phase with retries for temporary
// failures. If the server reports that a recomputation was triggered, exactly
// one [poller.Scheduler] polls the affected data using one of two strategies:
//
//   - single-record: re-fetch one record until its version marker moved and
//     the expected fields match
//   - full-collection: re-fetch every record until each tracked record has a
//     new version marker and a fully populated derived-value set
//
// At most one operation is active per write target. Starting a new write for
// a target cancels the previous one, which returns [ErrSuperseded].
package recalc
