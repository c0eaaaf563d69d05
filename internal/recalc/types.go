package recalc

import (
	"context"

	"github.com/upnest/growthsync/convergence"
)

// Scope selects the convergence strategy.
type Scope string

const (
	// ScopeSingleRecord waits for one record.
	ScopeSingleRecord Scope = "single-record"

	// ScopeFullCollection waits for every record of a collection.
	ScopeFullCollection Scope = "full-collection"
)

func (s Scope) String() string { return string(s) }

// Phase is the state of a write operation.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSaving    Phase = "saving"
	PhaseWaiting   Phase = "waiting_convergence"
	PhaseConverged Phase = "converged"
	PhaseTimedOut  Phase = "timed_out"
	PhaseFailed    Phase = "failed"
)

func (p Phase) String() string { return string(p) }

// Terminal reports whether p ends an operation.
func (p Phase) Terminal() bool {
	return p == PhaseConverged || p == PhaseTimedOut || p == PhaseFailed
}

// Record is the strategy-neutral view of one fetched record.
type Record struct {
	// ID identifies the record within its collection.
	ID string

	// Version is the record's logical version marker.
	Version string

	// Values holds the derived values keyed by field.
	Values map[string]any

	// Required lists the derived fields the server is expected to populate.
	// Used by the full-collection strategy.
	Required []string
}

// RecordProbe fetches one record.
type RecordProbe func(ctx context.Context) (Record, error)

// CollectionProbe fetches every record of a collection.
type CollectionProbe func(ctx context.Context) ([]Record, error)

// RecordWait configures the single-record strategy.
type RecordWait struct {
	Probe RecordProbe

	// Snapshot holds the record's derived values and version before the write.
	Snapshot convergence.Snapshot

	// Fields are the derived fields expected to change.
	Fields []string

	// Expected optionally holds the values the fields are expected to take.
	// Without it the fields must differ from the snapshot, unless Populated
	// is set.
	Expected map[string]any

	// Populated is set when the server clears the derived values before
	// recomputing them. A moved version with every field present then
	// confirms the recomputation, even if the values came out unchanged.
	Populated bool
}

// CollectionWait configures the full-collection strategy.
type CollectionWait struct {
	Probe CollectionProbe

	// Snapshot maps every tracked record ID to its version before the write.
	Snapshot convergence.Snapshot
}

// Request describes a write and how to confirm it.
type Request struct {
	// Target is the logical write target, e.g. "measurement:<id>". At most
	// one operation is active per target.
	Target string

	// Scope is the strategy expected for this write. The write's [Trigger]
	// may override it.
	Scope Scope

	Record     *RecordWait
	Collection *CollectionWait
}

// Trigger is what a write reports back about the recomputation it caused.
type Trigger struct {
	// Recalculate is true when the server started a recomputation.
	Recalculate bool

	// Scope overrides [Request.Scope] when set.
	Scope Scope

	// Expected overrides [RecordWait.Expected] when set, e.g. with values the
	// server returned in the write response.
	Expected map[string]any
}

// WriteFunc performs the write. Errors implementing Temporary() bool that
// report true are retried.
type WriteFunc func(ctx context.Context) (Trigger, error)

// Result is the outcome of [Coordinator.Run].
type Result struct {
	OperationID string
	Target      string

	// Phase is the final phase: idle when no wait was needed, otherwise
	// converged, timed_out or failed.
	Phase Phase

	// Scope is the strategy used, empty when no wait happened.
	Scope Scope

	// Attempts counts successful convergence checks.
	Attempts int

	// Record is the last fetched record of a single-record wait.
	Record *Record

	// Records is the last fetched collection of a full-collection wait.
	Records []Record
}
