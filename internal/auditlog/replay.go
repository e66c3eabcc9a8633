package auditlog

import (
	"context"
	"fmt"

	"github.com/aristath/taskengine/internal/graph"
)

// TaskState is the projected runtime state of one task.
type TaskState struct {
	Status      graph.Status
	Attempt     int
	LastError   string
	Confidences []int
}

// Snapshot is the full projection of the log: the state every task would be
// in after applying each recorded event in order.
type Snapshot struct {
	Tasks map[string]TaskState
}

// Replay folds the complete log into a Snapshot, starting from empty. This
// is the recovery path and the consistency oracle: the live graph must
// always equal the replayed snapshot.
func Replay(ctx context.Context, l Log) (*Snapshot, error) {
	transitions, err := l.Transitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("replaying transitions: %w", err)
	}
	attempts, err := l.AllAttempts(ctx)
	if err != nil {
		return nil, fmt.Errorf("replaying attempts: %w", err)
	}

	snap := &Snapshot{Tasks: make(map[string]TaskState)}

	for _, tr := range transitions {
		st := snap.Tasks[tr.TaskID]
		st.Status = tr.To
		switch tr.To {
		case graph.StatusStuck, graph.StatusError, graph.StatusBlocked:
			st.setFailure(tr.Reason)
		case graph.StatusComplete:
			st.LastError = ""
		}
		snap.Tasks[tr.TaskID] = st
	}

	for _, a := range attempts {
		st := snap.Tasks[a.TaskID]
		st.Attempt++
		st.Confidences = append(st.Confidences, a.Confidence)
		snap.Tasks[a.TaskID] = st
	}

	return snap, nil
}

// setFailure keeps the most recent non-empty failure reason.
func (st *TaskState) setFailure(reason string) {
	if reason != "" {
		st.LastError = reason
	}
}

// Apply restores a snapshot onto a freshly compiled graph. Tasks absent from
// the snapshot stay pending; tasks in the snapshot but absent from the plan
// are skipped (the plan was edited between runs, and the log still retains
// their history).
func (s *Snapshot) Apply(g *graph.Graph) error {
	for id, st := range s.Tasks {
		if _, ok := g.Task(id); !ok {
			continue
		}
		status := st.Status
		if status == "" {
			status = graph.StatusPending
		}
		if err := g.RestoreStatus(id, status, st.Attempt, st.LastError); err != nil {
			return fmt.Errorf("restoring %s: %w", id, err)
		}
		for _, c := range st.Confidences {
			g.RestoreConfidence(id, c)
		}
	}
	return nil
}
