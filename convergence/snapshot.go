package convergence

import (
	"maps"
	"slices"
	"time"
)

// Snapshot is a read-only "before" state captured prior to a write.
//
// A record snapshot holds the derived values and the version marker of one
// record. A collection snapshot maps every tracked record identifier to its
// version marker. The maps passed to the constructors are copied.
type Snapshot struct {
	values   map[string]any
	version  string
	versions map[string]string
	takenAt  time.Time
}

// NewRecordSnapshot captures a single record.
func NewRecordSnapshot(version string, values map[string]any, takenAt time.Time) Snapshot {
	return Snapshot{
		values:  maps.Clone(values),
		version: version,
		takenAt: takenAt,
	}
}

// NewCollectionSnapshot captures the version markers of a collection.
func NewCollectionSnapshot(versions map[string]string, takenAt time.Time) Snapshot {
	return Snapshot{
		versions: maps.Clone(versions),
		takenAt:  takenAt,
	}
}

// Version returns the record version marker.
func (s Snapshot) Version() string { return s.version }

// Values returns a copy of the record's derived values.
func (s Snapshot) Values() map[string]any { return maps.Clone(s.values) }

// Value returns a single derived value.
func (s Snapshot) Value(field string) any { return s.values[field] }

// VersionOf returns the version marker captured for a collection member.
func (s Snapshot) VersionOf(id string) (string, bool) {
	v, ok := s.versions[id]
	return v, ok
}

// IDs returns the tracked collection identifiers in sorted order.
func (s Snapshot) IDs() []string {
	return slices.Sorted(maps.Keys(s.versions))
}

// Len returns the number of tracked collection members.
func (s Snapshot) Len() int { return len(s.versions) }

// TakenAt returns the capture time.
func (s Snapshot) TakenAt() time.Time { return s.takenAt }

// VersionChanged reports whether version differs from the captured record
// version marker.
func (s Snapshot) VersionChanged(version string) bool {
	return version != s.version
}
