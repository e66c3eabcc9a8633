// Package scheduler computes the unblocked-task set from task status and
// file conflicts, and packs ranked candidates into parallel-safe batches.
package scheduler

import (
	"sort"

	"github.com/aristath/taskengine/internal/graph"
)

// Unblocked returns clones of every task that is eligible to run right now:
// pending, all dependencies complete, and no file shared with a running
// task. File locks are advisory and derived fresh on every call from the
// current running set, so there is no lock state to leak.
//
// One pass over the tasks plus one over the running file sets: O(tasks+files).
func Unblocked(g *graph.Graph) []*graph.Task {
	tasks := g.Tasks()

	runningFiles := make(map[string]bool)
	status := make(map[string]graph.Status, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
		if t.Status == graph.StatusRunning {
			for _, f := range t.Files {
				runningFiles[f] = true
			}
		}
	}

	var unblocked []*graph.Task
	for _, t := range tasks {
		if t.Status != graph.StatusPending {
			continue
		}
		if !depsComplete(t, status) {
			continue
		}
		if touchesAny(t.Files, runningFiles) {
			continue
		}
		unblocked = append(unblocked, t)
	}
	return unblocked
}

func depsComplete(t *graph.Task, status map[string]graph.Status) bool {
	for _, depID := range t.DependsOn {
		if status[depID] != graph.StatusComplete {
			return false
		}
	}
	return true
}

func touchesAny(files []string, taken map[string]bool) bool {
	for _, f := range files {
		if taken[f] {
			return true
		}
	}
	return false
}

// Rank orders unblocked candidates in place: highest transitive unblock
// count first (finishing high-leverage work unlocks the most downstream
// tasks), then lower complexity, then stable ID order. Best-effort by
// design; no optimality is claimed.
func Rank(g *graph.Graph, candidates []*graph.Task) {
	unblocks := make(map[string]int, len(candidates))
	for _, t := range candidates {
		unblocks[t.ID] = len(g.TransitiveDependents(t.ID))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if unblocks[a.ID] != unblocks[b.ID] {
			return unblocks[a.ID] > unblocks[b.ID]
		}
		if a.Complexity.Weight() != b.Complexity.Weight() {
			return a.Complexity.Weight() < b.Complexity.Weight()
		}
		return a.ID < b.ID
	})
}
