package growthsync

import (
	"errors"
	"time"

	"github.com/upnest/growthsync/internal/growthapi"
	"github.com/upnest/growthsync/internal/recalc"
	"github.com/upnest/growthsync/internal/store"
)

// Phase represents where a write operation is in its lifecycle.
//
// Phase is a string type so it serializes and logs readably. A write moves
// from [PhaseSaving] to either [PhaseIdle] (nothing to wait for) or
// [PhaseWaiting], and from there to one of the terminal phases
// [PhaseConverged], [PhaseTimedOut] or [PhaseFailed].
type Phase string

const (
	// PhaseIdle indicates no wait is in progress.
	PhaseIdle Phase = "idle"

	// PhaseSaving indicates the write request is in flight.
	PhaseSaving Phase = "saving"

	// PhaseWaiting indicates the write succeeded and the server is
	// recomputing derived values.
	PhaseWaiting Phase = "waiting_convergence"

	// PhaseConverged indicates the recomputed values are observable.
	PhaseConverged Phase = "converged"

	// PhaseTimedOut indicates the retry budget ran out before the values
	// changed. The write itself succeeded; the values may still appear later.
	PhaseTimedOut Phase = "timed_out"

	// PhaseFailed indicates convergence checks kept failing.
	PhaseFailed Phase = "failed"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Terminal reports whether p ends an operation.
func (p Phase) Terminal() bool {
	return recalc.Phase(p).Terminal()
}

// Scope names the convergence strategy of a write.
type Scope string

const (
	// ScopeSingleRecord watches one record's derived fields.
	ScopeSingleRecord Scope = "single-record"

	// ScopeFullCollection watches the version of every record of a baby.
	ScopeFullCollection Scope = "full-collection"
)

// Wire types of the growth-data API.
type (
	Measurement      = growthapi.Measurement
	Baby             = growthapi.Baby
	Values           = growthapi.Values
	MeasurementPatch = growthapi.MeasurementPatch
	BabyPatch        = growthapi.BabyPatch
	RecalcMode       = growthapi.RecalcMode
)

// Recomputation modes reported for baby patches.
const (
	ModeFull      = growthapi.ModeFull
	ModeBirthOnly = growthapi.ModeBirthOnly
	ModeNone      = growthapi.ModeNone
)

// Derived fields of a measurement.
const (
	FieldWeight            = growthapi.FieldWeight
	FieldHeight            = growthapi.FieldHeight
	FieldHeadCircumference = growthapi.FieldHeadCircumference
)

var (
	// ErrConvergenceTimeout is wrapped by the error of a timed-out write.
	ErrConvergenceTimeout = recalc.ErrConvergenceTimeout

	// ErrSuperseded is returned when a newer write to the same target took
	// over before the wait finished.
	ErrSuperseded = recalc.ErrSuperseded

	// ErrEmptyPatch is returned for patches that change nothing.
	ErrEmptyPatch = errors.New("patch changes nothing")

	errBaseURLRequired = errors.New("base URL is required")
)

type (
	// ProbeFailedError is returned when convergence checks kept failing.
	ProbeFailedError = recalc.ProbeFailedError

	// APIError is a non-2xx response of the growth-data API.
	APIError = growthapi.APIError
)

// Outcome holds the result of one write operation.
//
// Outcome is handed to callers by value and to [WithOutcomeCallback]
// callbacks. Slices and maps it carries are owned by the receiver.
type Outcome struct {
	// OperationID identifies the write operation in logs and events.
	OperationID string

	// Target is the logical write target, "measurement:<dataId>" or
	// "baby:<babyId>".
	Target string

	// Phase is the final phase of the operation.
	Phase Phase

	// Scope is the convergence strategy used, empty when no wait happened.
	Scope Scope

	// Mode is the recomputation mode the server reported for baby patches.
	Mode RecalcMode

	// Attempts counts convergence checks that reached the server.
	Attempts int

	// Measurement is the most recent view of the written measurement, or of
	// the birth measurement for baby patches.
	Measurement *Measurement

	// Measurements is the most recent view of all measurements of a baby
	// after a full recomputation.
	Measurements []Measurement

	// Baby is the patched profile returned by the server.
	Baby *Baby

	// StartedAt and FinishedAt bound the operation.
	StartedAt  time.Time
	FinishedAt time.Time

	// Err is the error returned alongside the outcome, if any.
	Err error
}

// Converged reports whether the recomputed values were observed.
func (o Outcome) Converged() bool {
	return o.Phase == PhaseConverged
}

// Event is a phase transition of a write operation.
type Event struct {
	Target      string
	OperationID string
	Phase       Phase
	Scope       Scope
	Attempt     int
	At          time.Time

	// Error holds the message of a failed or timed-out operation.
	Error string
}

// storeEventToPublic converts an internal store event to the public type.
func storeEventToPublic(e store.Event) Event {
	ev := Event{
		Target:      e.Target,
		OperationID: e.OperationID,
		Phase:       Phase(e.Phase),
		Scope:       Scope(e.Scope),
		Attempt:     e.Attempt,
		At:          e.At,
	}
	if e.Error != nil {
		ev.Error = *e.Error
	}
	return ev
}
