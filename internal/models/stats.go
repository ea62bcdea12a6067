package models

// MergeStats reports what one reconciliation did. It is surfaced to the UI
// and persisted into the settings bag as the last-sync diagnostic.
type MergeStats struct {
	// Added counts records adopted from one side only.
	Added int `json:"added"`
	// Updated counts records present on both sides that differed and were
	// resolved to a live winner.
	Updated int `json:"updated"`
	// Deleted counts records newly tombstoned by the merge.
	Deleted int `json:"deleted"`
	// ConflictsResolved counts records whose sides disagreed on deletion
	// state; it is incremented in addition to Updated or Deleted.
	ConflictsResolved int `json:"conflictsResolved"`
	// Unchanged counts records identical on both sides.
	Unchanged int `json:"unchanged"`
}

// Add accumulates other into s.
func (s *MergeStats) Add(other MergeStats) {
	s.Added += other.Added
	s.Updated += other.Updated
	s.Deleted += other.Deleted
	s.ConflictsResolved += other.ConflictsResolved
	s.Unchanged += other.Unchanged
}
