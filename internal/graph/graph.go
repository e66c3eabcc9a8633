package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Graph is the canonical in-memory representation of a plan: tasks indexed by
// ID, phases in document order, and a dependents index for downstream lookup.
// All reads hand out clones so callers never observe concurrent mutation.
type Graph struct {
	mu         sync.RWMutex
	tasks      map[string]*Task
	phases     []*Phase
	phaseIndex map[string]int      // phase ID -> position in phases
	dependents map[string][]string // task ID -> tasks that depend on it
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		tasks:      make(map[string]*Task),
		phaseIndex: make(map[string]int),
		dependents: make(map[string][]string),
	}
}

func (g *Graph) addTask(task *Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[task.ID]; exists {
		return fmt.Errorf("duplicate task ID %q", task.ID)
	}
	g.tasks[task.ID] = task
	for _, depID := range task.DependsOn {
		g.dependents[depID] = append(g.dependents[depID], task.ID)
	}
	return nil
}

func (g *Graph) addPhase(phase *Phase) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.phaseIndex[phase.ID]; exists {
		return fmt.Errorf("duplicate phase ID %q", phase.ID)
	}
	g.phaseIndex[phase.ID] = len(g.phases)
	g.phases = append(g.phases, phase)
	return nil
}

// Task returns a clone of the task with the given ID.
func (g *Graph) Task(id string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	task, ok := g.tasks[id]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// Tasks returns clones of all tasks in stable ID order.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.tasks))
	for id := range g.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, g.tasks[id].Clone())
	}
	return tasks
}

// Phases returns the phases in document order.
func (g *Graph) Phases() []*Phase {
	g.mu.RLock()
	defer g.mu.RUnlock()

	phases := make([]*Phase, 0, len(g.phases))
	for _, p := range g.phases {
		cp := *p
		cp.TaskIDs = append([]string(nil), p.TaskIDs...)
		phases = append(phases, &cp)
	}
	return phases
}

// PhasePosition returns the document position of the given phase ID.
func (g *Graph) PhasePosition(phaseID string) (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	pos, ok := g.phaseIndex[phaseID]
	return pos, ok
}

// Dependents returns the IDs of tasks that directly depend on the given task.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dependents[id]...)
}

// TransitiveDependents returns every task reachable through the dependents
// index from the given task, i.e. all work that can never proceed once the
// task is blocked.
func (g *Graph) TransitiveDependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	stack := append([]string(nil), g.dependents[id]...)
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[next] {
			continue
		}
		seen[next] = true
		stack = append(stack, g.dependents[next]...)
	}

	out := make([]string, 0, len(seen))
	for dep := range seen {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// MarkRunning transitions a pending task to running and stamps the progress
// clock. The scheduler is the only caller.
func (g *Graph) MarkRunning(id, backend string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	if task.Status != StatusPending {
		return fmt.Errorf("task %q is %s, not pending", id, task.Status)
	}
	now := time.Now()
	task.Status = StatusRunning
	task.Backend = backend
	task.StartedAt = now
	task.LastProgress = now
	return nil
}

// MarkProgress refreshes the task's progress clock. Backends call this (via
// the dispatcher) whenever an execution emits output; the heartbeat monitor
// compares it against the stall threshold.
func (g *Graph) MarkProgress(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if task, ok := g.tasks[id]; ok && task.Status == StatusRunning {
		task.LastProgress = time.Now()
	}
}

// MarkStuck transitions a running task to stuck with the given stall marker.
func (g *Graph) MarkStuck(id, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	if task.Status != StatusRunning {
		return fmt.Errorf("task %q is %s, not running", id, task.Status)
	}
	task.Status = StatusStuck
	task.LastError = reason
	return nil
}

// MarkComplete transitions a running task to complete.
func (g *Graph) MarkComplete(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	if task.Status != StatusRunning {
		return fmt.Errorf("task %q is %s, not running", id, task.Status)
	}
	task.Status = StatusComplete
	task.CompletedAt = time.Now()
	task.LastError = ""
	return nil
}

// MarkError transitions a running task to error with the failure reason.
func (g *Graph) MarkError(id, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	if task.Status != StatusRunning {
		return fmt.Errorf("task %q is %s, not running", id, task.Status)
	}
	task.Status = StatusError
	task.LastError = reason
	return nil
}

// ReturnToPending moves a stuck or errored task back to pending so the
// scheduler can retry it.
func (g *Graph) ReturnToPending(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	if task.Status != StatusStuck && task.Status != StatusError {
		return fmt.Errorf("task %q is %s, not stuck or error", id, task.Status)
	}
	task.Status = StatusPending
	task.StartedAt = time.Time{}
	task.LastProgress = time.Time{}
	return nil
}

// MarkBlocked makes a task permanently blocked. Valid from any non-terminal
// status: exhaustion is detected after a failed attempt, but crash recovery
// can also block a task that is nominally pending.
func (g *Graph) MarkBlocked(id, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	if task.Status.IsTerminal() {
		return fmt.Errorf("task %q is already %s", id, task.Status)
	}
	task.Status = StatusBlocked
	task.LastError = reason
	task.CompletedAt = time.Now()
	return nil
}

// RecordAttempt increments the attempt counter and appends the confidence
// score. The counter never exceeds MaxAttempts.
func (g *Graph) RecordAttempt(id string, confidence int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	if task.Attempt >= task.MaxAttempts {
		return fmt.Errorf("task %q already at attempt limit %d", id, task.MaxAttempts)
	}
	task.Attempt++
	task.Confidences = append(task.Confidences, confidence)
	return nil
}

// RestoreStatus force-sets status and attempt state without transition
// checks. Only the audit log replay uses this while rebuilding the snapshot.
func (g *Graph) RestoreStatus(id string, status Status, attempt int, lastError string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	task.Status = status
	task.Attempt = attempt
	task.LastError = lastError
	return nil
}

// RestoreConfidence appends a replayed confidence score.
func (g *Graph) RestoreConfidence(id string, confidence int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if task, ok := g.tasks[id]; ok {
		task.Confidences = append(task.Confidences, confidence)
	}
}
