package recalc

import (
	"errors"
	"fmt"
)

var (
	// ErrConvergenceTimeout means the write succeeded but the recomputed
	// values did not become observable within the retry budget.
	ErrConvergenceTimeout = errors.New("convergence not confirmed")

	// ErrSuperseded is returned by an operation cancelled by a newer write to
	// the same target.
	ErrSuperseded = errors.New("superseded by a newer write")
)

// ProbeFailedError means the confirmation probe itself kept failing. The
// write succeeded; its confirmation is broken.
type ProbeFailedError struct {
	Target string
	Err    error
}

func (e *ProbeFailedError) Error() string {
	return fmt.Sprintf("confirming %s: %v", e.Target, e.Err)
}

func (e *ProbeFailedError) Unwrap() error {
	return e.Err
}

// temporary reports whether err asks to be retried.
func temporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
