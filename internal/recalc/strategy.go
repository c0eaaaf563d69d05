package recalc

import "github.com/upnest/growthsync/convergence"

// recordConverged reports whether a re-fetched record reflects the
// recomputation: its version marker moved and the expected fields match.
//
// With expected values the fields must match them. For a wait on cleared
// values the fields must be present again. Otherwise at least one field must
// differ from the snapshot, since the version marker only moves when the
// derived values actually change.
func recordConverged(r Record, wait *RecordWait, expected map[string]any, tolerance float64) bool {
	if !wait.Snapshot.VersionChanged(r.Version) {
		return false
	}
	switch {
	case expected != nil:
		return convergence.Matches(r.Values, expected, wait.Fields, tolerance)
	case wait.Populated:
		return convergence.AllPresent(r.Values, wait.Fields)
	default:
		return !convergence.Matches(r.Values, wait.Snapshot.Values(), wait.Fields, tolerance)
	}
}

// collectionConverged reports whether every tracked record has a new version
// marker and a fully populated derived-value set. A tracked record missing
// from the fetched collection is not converged.
func collectionConverged(records []Record, snap convergence.Snapshot) (converged bool, changed int) {
	byID := make(map[string]Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	for _, id := range snap.IDs() {
		r, ok := byID[id]
		if !ok {
			continue
		}
		before, _ := snap.VersionOf(id)
		if r.Version != before && convergence.AllPresent(r.Values, r.Required) {
			changed++
		}
	}
	return changed == snap.Len(), changed
}
