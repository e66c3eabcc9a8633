package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gammazero/toposort"
)

// ValidationError collects every problem found while compiling a plan
// document, so a malformed graph is reported in a single pass instead of
// one error per reload.
type ValidationError struct {
	Problems []string
}

// Addf appends a formatted problem.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// HasProblems reports whether any problem was recorded.
func (e *ValidationError) HasProblems() bool { return len(e.Problems) > 0 }

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "plan validation failed"
	}
	return fmt.Sprintf("plan validation failed with %d problem(s):\n  - %s",
		len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// checkReferences records dangling depends_on references.
func (g *Graph) checkReferences(verr *ValidationError) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.tasks))
	for id := range g.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for _, depID := range g.tasks[id].DependsOn {
			if _, ok := g.tasks[depID]; !ok {
				verr.Addf("task %q depends on non-existent task %q", id, depID)
			}
		}
	}
}

// checkCycles runs a topological sort and, on failure, names every task that
// participates in a cycle. toposort only reports that a cycle exists, so the
// participants are recovered by iteratively peeling tasks whose dependencies
// are all acyclic; whatever remains is on a cycle.
func (g *Graph) checkCycles(verr *ValidationError) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []toposort.Edge
	for id, task := range g.tasks {
		if len(task.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range task.DependsOn {
			if _, ok := g.tasks[depID]; !ok {
				continue // dangling refs are reported separately
			}
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	if _, err := toposort.Toposort(edges); err == nil {
		return
	}

	members := g.cycleMembersLocked()
	sort.Strings(members)
	verr.Addf("dependency cycle involving tasks: %s", strings.Join(members, ", "))
}

// cycleMembersLocked returns the IDs of all tasks on at least one dependency
// cycle. Caller holds at least a read lock.
func (g *Graph) cycleMembersLocked() []string {
	// Kahn-style peel: repeatedly remove tasks whose remaining in-degree
	// (unresolved deps) is zero. Survivors are cycle members.
	indegree := make(map[string]int, len(g.tasks))
	for id, task := range g.tasks {
		n := 0
		for _, depID := range task.DependsOn {
			if _, ok := g.tasks[depID]; ok {
				n++
			}
		}
		indegree[id] = n
	}

	queue := make([]string, 0, len(g.tasks))
	for id, n := range indegree {
		if n == 0 {
			queue = append(queue, id)
		}
	}

	removed := make(map[string]bool, len(g.tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		removed[id] = true
		for _, depID := range g.dependents[id] {
			indegree[depID]--
			if indegree[depID] == 0 {
				queue = append(queue, depID)
			}
		}
	}

	var members []string
	for id := range g.tasks {
		if !removed[id] {
			members = append(members, id)
		}
	}
	return members
}
