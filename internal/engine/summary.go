package engine

import (
	"fmt"
	"strings"

	"github.com/aristath/taskengine/internal/graph"
)

// TaskSummary is one task's final line in the run report.
type TaskSummary struct {
	ID              string
	Subject         string
	Status          graph.Status
	Attempts        int
	FinalConfidence int
	LastError       string
}

// RunSummary reports where every task ended up. The audit log keeps the full
// history; this is the human-sized view.
type RunSummary struct {
	Plan      string
	Completed int
	Blocked   int
	Pending   int
	Tasks     []TaskSummary
}

// AllComplete reports whether the run finished every task.
func (s *RunSummary) AllComplete() bool {
	return s.Blocked == 0 && s.Pending == 0
}

// Summary snapshots the current graph into a run report.
func (e *Engine) Summary() *RunSummary {
	s := &RunSummary{Plan: e.planPath}
	for _, t := range e.Graph().Tasks() {
		ts := TaskSummary{
			ID:        t.ID,
			Subject:   t.Subject,
			Status:    t.Status,
			Attempts:  t.Attempt,
			LastError: t.LastError,
		}
		if len(t.Confidences) > 0 {
			ts.FinalConfidence = t.Confidences[len(t.Confidences)-1]
		}
		s.Tasks = append(s.Tasks, ts)

		switch t.Status {
		case graph.StatusComplete:
			s.Completed++
		case graph.StatusBlocked:
			s.Blocked++
		default:
			s.Pending++
		}
	}
	return s
}

// Render formats the summary for terminal output.
func (s *RunSummary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s\n", s.Plan)
	fmt.Fprintf(&b, "Tasks: %d complete, %d blocked, %d unfinished\n\n",
		s.Completed, s.Blocked, s.Pending)

	for _, t := range s.Tasks {
		fmt.Fprintf(&b, "  [%-8s] %-20s attempts=%d", t.Status, t.ID, t.Attempts)
		if t.Status == graph.StatusBlocked {
			fmt.Fprintf(&b, " confidence=%d", t.FinalConfidence)
		}
		b.WriteByte('\n')
		if t.LastError != "" {
			first := t.LastError
			if i := strings.IndexByte(first, '\n'); i >= 0 {
				first = first[:i]
			}
			fmt.Fprintf(&b, "             %s\n", first)
		}
	}

	b.WriteString("\nFull history is in the audit log; replay it with `taskengine replay`.\n")
	return b.String()
}
