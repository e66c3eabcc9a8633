package scheduler

import (
	"github.com/aristath/taskengine/internal/graph"
)

// NextBatch selects the tasks to dispatch this tick. It restricts candidates
// to the active phase, ranks them, then greedily accepts tasks whose file
// sets are disjoint from everything already accepted (and already running),
// up to maxParallel. A greedy set-packing heuristic, not an exact solver.
func NextBatch(g *graph.Graph, maxParallel int) []*graph.Task {
	if maxParallel <= 0 {
		maxParallel = 4
	}

	phaseID, ok := ActivePhase(g)
	if !ok {
		return nil
	}

	candidates := Unblocked(g)
	inPhase := candidates[:0]
	for _, t := range candidates {
		if t.Phase == phaseID {
			inPhase = append(inPhase, t)
		}
	}
	Rank(g, inPhase)

	running := 0
	taken := make(map[string]bool)
	for _, t := range g.Tasks() {
		if t.Status == graph.StatusRunning {
			running++
			for _, f := range t.Files {
				taken[f] = true
			}
		}
	}

	var batch []*graph.Task
	for _, t := range inPhase {
		if running+len(batch) >= maxParallel {
			break
		}
		if touchesAny(t.Files, taken) {
			continue
		}
		batch = append(batch, t)
		for _, f := range t.Files {
			taken[f] = true
		}
	}
	return batch
}

// ActivePhase returns the earliest phase with at least one non-terminal
// task. A batch never spans phases: until every task of phase N (retries
// included) is terminal, phase N+1 is not admitted.
func ActivePhase(g *graph.Graph) (string, bool) {
	for _, phase := range g.Phases() {
		for _, id := range phase.TaskIDs {
			t, ok := g.Task(id)
			if !ok {
				continue
			}
			if !t.Status.IsTerminal() {
				return phase.ID, true
			}
		}
	}
	return "", false
}
