// Package reconcile implements the pure snapshot merge: given a local and a
// remote snapshot it produces a merged snapshot and a statistics report.
// It performs no I/O and never mutates its inputs.
//
// Resolution is last-writer-wins at record granularity, applied per id:
// the strictly newer UpdatedAt wins in full. Equal timestamps prefer the
// tombstoned side (never resurrect an intentional delete), and when neither
// or both carry a tombstone the remote copy wins, since the remote already
// reflects another device's confirmed write.
package reconcile

import (
	"reflect"
	"time"

	"github.com/mindwtr/mindwtr/internal/models"
)

// Merge reconciles two snapshots. The result preserves local's relative
// record order, with remote-only additions appended in remote's order.
// Every id present in either input is present in the output, possibly as a
// tombstone; nothing is silently dropped.
//
// Inputs containing duplicate ids (which should be unreachable) are
// recovered by keeping the most recently updated instance; callers can
// detect that case up front with DuplicateIds.
func Merge(local, remote *models.AppData) (*models.AppData, models.MergeStats) {
	if local == nil {
		local = models.NewAppData()
	}
	if remote == nil {
		remote = models.NewAppData()
	}

	var stats models.MergeStats
	merged := models.NewAppData()

	merged.Tasks = mergeCollection(local.Tasks, remote.Tasks, taskOps, &stats)
	merged.Projects = mergeCollection(local.Projects, remote.Projects, projectOps, &stats)
	merged.Areas = mergeCollection(local.Areas, remote.Areas, areaOps, &stats)
	merged.Settings = mergeSettings(local.Settings, remote.Settings)

	return merged, stats
}

// DuplicateIds reports ids that appear more than once within a collection of
// the snapshot. A non-empty result indicates a store invariant violation;
// Merge recovers from it, but the caller should log it.
func DuplicateIds(d *models.AppData) []string {
	if d == nil {
		return nil
	}
	var dups []string
	seen := map[string]bool{}
	note := func(id string) {
		if seen[id] {
			dups = append(dups, id)
		}
		seen[id] = true
	}
	for i := range d.Tasks {
		note(d.Tasks[i].Id)
	}
	seen = map[string]bool{}
	for i := range d.Projects {
		note(d.Projects[i].Id)
	}
	seen = map[string]bool{}
	for i := range d.Areas {
		note(d.Areas[i].Id)
	}
	return dups
}

// ops bundles the per-type accessors the generic merge needs.
type ops[T any] struct {
	id        func(T) string
	updatedAt func(T) time.Time
	deletedAt func(T) *time.Time
	clone     func(T) T
}

var taskOps = ops[models.Task]{
	id:        func(t models.Task) string { return t.Id },
	updatedAt: func(t models.Task) time.Time { return t.UpdatedAt },
	deletedAt: func(t models.Task) *time.Time { return t.DeletedAt },
	clone:     models.CloneTask,
}

var projectOps = ops[models.Project]{
	id:        func(p models.Project) string { return p.Id },
	updatedAt: func(p models.Project) time.Time { return p.UpdatedAt },
	deletedAt: func(p models.Project) *time.Time { return p.DeletedAt },
	clone:     models.CloneProject,
}

var areaOps = ops[models.Area]{
	id: func(a models.Area) string { return a.Id },
	updatedAt: func(a models.Area) time.Time {
		if a.UpdatedAt == nil {
			return time.Time{}
		}
		return *a.UpdatedAt
	},
	// Areas carry no tombstone.
	deletedAt: func(models.Area) *time.Time { return nil },
	clone:     models.CloneArea,
}

func mergeCollection[T any](local, remote []T, o ops[T], stats *models.MergeStats) []T {
	local = dedupe(local, o)
	remote = dedupe(remote, o)

	remoteById := make(map[string]T, len(remote))
	for _, r := range remote {
		remoteById[o.id(r)] = r
	}

	out := make([]T, 0, len(local)+len(remote))
	seen := make(map[string]bool, len(local))

	for _, l := range local {
		id := o.id(l)
		seen[id] = true

		r, inRemote := remoteById[id]
		if !inRemote {
			// Local creation not yet seen remotely.
			out = append(out, o.clone(l))
			stats.Added++
			continue
		}

		winner := resolve(l, r, o)
		out = append(out, o.clone(winner))
		count(l, r, winner, o, stats)
	}

	for _, r := range remote {
		if seen[o.id(r)] {
			continue
		}
		// Remote creation not yet pulled locally.
		out = append(out, o.clone(r))
		stats.Added++
	}

	return out
}

// resolve picks the winning record for an id present on both sides.
func resolve[T any](local, remote T, o ops[T]) T {
	lt, rt := o.updatedAt(local), o.updatedAt(remote)
	switch {
	case lt.After(rt):
		return local
	case rt.After(lt):
		return remote
	}
	// Equal timestamps: a tombstone beats a live record.
	lDel := o.deletedAt(local) != nil
	rDel := o.deletedAt(remote) != nil
	if lDel != rDel {
		if lDel {
			return local
		}
		return remote
	}
	return remote
}

func count[T any](local, remote, winner T, o ops[T], stats *models.MergeStats) {
	if reflect.DeepEqual(local, remote) {
		stats.Unchanged++
		return
	}

	lDel := o.deletedAt(local) != nil
	rDel := o.deletedAt(remote) != nil
	wDel := o.deletedAt(winner) != nil

	if lDel != rDel {
		stats.ConflictsResolved++
	}
	if wDel && !lDel {
		stats.Deleted++
		return
	}
	stats.Updated++
}

// dedupe keeps the most recently updated instance of each id, preserving the
// position of the first occurrence. Duplicate ids violate the snapshot
// invariant; dropping data would be worse than best-effort recovery.
func dedupe[T any](in []T, o ops[T]) []T {
	index := make(map[string]int, len(in))
	out := make([]T, 0, len(in))
	for _, rec := range in {
		id := o.id(rec)
		if at, ok := index[id]; ok {
			if o.updatedAt(rec).After(o.updatedAt(out[at])) {
				out[at] = rec
			}
			continue
		}
		index[id] = len(out)
		out = append(out, rec)
	}
	return out
}

// mergeSettings merges the two bags key-by-key. The "fresher" bag (by its
// updatedAt marker) wins keys present on both sides; keys known to only one
// side are kept. Absent markers on both sides the remote bag wins, matching
// the record-level tie-break.
func mergeSettings(local, remote models.Settings) models.Settings {
	lts, lok := local.ModifiedAt()
	rts, rok := remote.ModifiedAt()

	winner, loser := remote, local
	if lok && (!rok || lts.After(rts)) {
		winner, loser = local, remote
	}

	out := models.CloneSettings(loser)
	for k, v := range models.CloneSettings(winner) {
		out[k] = v
	}
	return out
}
