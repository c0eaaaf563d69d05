// Package mockapi is an in-process fake of the growth API.
//
// It stores babies and growth data records, and recomputes percentiles
// asynchronously after writes, the way the real backend's stream processors
// do: a measurement update answers immediately while the stored percentiles
// and the updatedAt version marker only move once the recompute job runs.
// Baby profile changes clear the percentiles of every affected record first,
// so their recompute always writes a new version, even for equal values.
// The recompute delay, failure injection and clock are configurable so tests
// can reproduce slow or flaky backends deterministically.
package mockapi
