// Package store provides storage and pub/sub for recalculation phase events.
//
// Every transition of a write operation (saving, waiting for convergence,
// converged, timed out, failed) is recorded as an [Event] keyed by the write
// target, e.g. "measurement:<dataId>" or "baby:<babyId>". The latest event per
// target can be read back, and subscribers receive every event as it happens.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [Event]: Storage representation of a phase transition
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers will miss updates rather than block the coordinator).
package store
