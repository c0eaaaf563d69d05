package store

import "time"

// Event records one phase transition of a write operation.
//
// Event is decoupled from the coordinator's internal types so that consumers
// (CLI progress output, SDK subscribers) can render it without importing them.
type Event struct {
	// Target identifies the write target, e.g. "measurement:<dataId>".
	Target string `json:"target"`

	// OperationID identifies the write operation that produced the event.
	OperationID string `json:"operation_id"`

	// Phase is the phase entered (e.g. "saving", "waiting_convergence").
	Phase string `json:"phase"`

	// Scope is the convergence strategy, empty until one is chosen.
	Scope string `json:"scope,omitempty"`

	// Attempt is the number of convergence checks performed so far.
	Attempt int `json:"attempt"`

	// At is when the transition happened.
	At time.Time `json:"at"`

	// Error contains the error message for failed or timed-out operations.
	Error *string `json:"error"`
}

// Store defines the interface for storing and subscribing to phase events.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Publish stores an event and notifies all subscribers.
	// Events are keyed by Target, so later events replace earlier ones.
	Publish(event Event)

	// Get returns the latest event for a target.
	Get(target string) (Event, bool)

	// GetAll returns the latest event of every target.
	// The returned slice is a snapshot; modifications do not affect the store.
	GetAll() []Event

	// Subscribe returns a channel that receives every published event.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Event

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Event)
}
