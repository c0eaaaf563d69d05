// Package poller provides a resilient polling scheduler for waiting on
// eventually consistent remote state.
//
// A [Scheduler] repeatedly invokes an asynchronous [Probe], evaluates a
// [StopCondition] on every successful result, and either stops (reporting
// success through [Hooks]) or reschedules the next cycle. Failures are retried
// with delays from a [BackoffPolicy]; a consecutive failure ceiling or
// stop-on-first-error turns a retryable failure into a terminal
// [PolicyTerminatedError]. Cycles are deferred while a [VisibilityGate]
// reports the host as hidden, without consuming retry budget.
//
// The main components are:
//
//   - [Scheduler]: the cycle loop with timer, cancellation and attempt state
//   - [BackoffPolicy]: delay computation with optional ±20% jitter
//   - [VisibilityGate]: observability signal, with [AlwaysObservable] and
//     [ManualGate] implementations
//
// Timers are driven by a clockwork.Clock so tests can use a fake clock.
package poller
