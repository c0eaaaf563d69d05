// Package convergence decides whether an asynchronous server-side
// recomputation has become visible.
//
// A caller captures a [Snapshot] of the derived values and version markers
// it knows before issuing a write, then compares freshly fetched values with
// [Matches] (tolerance comparison of specific numbers) or [AllPresent]
// (presence check for values the server produces from scratch).
//
// Values are compared after [Normalize], which accepts numbers,
// numeric-looking strings in dot or comma decimal notation with an optional
// unit suffix, and nil. Nothing in this package panics on malformed input;
// unparseable values are treated as absent.
package convergence
