package poller

import (
	"errors"
	"fmt"
)

// ErrCancelled is the outcome a probe may return when its context was
// cancelled. Any error satisfying errors.Is(err, context.Canceled) is treated
// the same way. A cancellation is never counted as a failure.
var ErrCancelled = errors.New("probe cancelled")

// PolicyTerminatedError is committed into [State.Err] when the retry policy
// ends a session, either because stop-on-first-error is set or because the
// consecutive failure ceiling was reached.
type PolicyTerminatedError struct {
	// ConsecutiveErrors is the failure count at termination.
	ConsecutiveErrors int

	// FirstError is true when the session ended on stop-on-first-error.
	FirstError bool

	// Err is the last underlying probe error.
	Err error
}

func (e *PolicyTerminatedError) Error() string {
	if e.FirstError {
		return fmt.Sprintf("polling stopped on first error: %v", e.Err)
	}
	return fmt.Sprintf("polling stopped after %d consecutive errors: %v", e.ConsecutiveErrors, e.Err)
}

func (e *PolicyTerminatedError) Unwrap() error {
	return e.Err
}
