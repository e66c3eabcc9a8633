// Package monitor is the heartbeat watchdog. It never receives positive
// "I am stuck" signals; it infers stalls from the absence of progress. Every
// running task stamps LastProgress as its execution emits output, and the
// monitor sweeps the graph comparing those stamps against the stall
// threshold. A silent task gets marked stuck and its execution hard-cancelled
// so the engine can retry it with escalated context.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/taskengine/internal/auditlog"
	"github.com/aristath/taskengine/internal/events"
	"github.com/aristath/taskengine/internal/graph"
	"github.com/aristath/taskengine/internal/logging"
)

// Canceler hard-cancels an in-flight execution. The dispatcher implements it.
type Canceler interface {
	Cancel(taskID string) bool
}

// Monitor periodically sweeps the graph for silent running tasks.
type Monitor struct {
	graph    *graph.Graph
	canceler Canceler
	audit    auditlog.Log
	bus      *events.Bus
	log      *logging.Logger

	stallAfter time.Duration
	interval   time.Duration
	now        func() time.Time
}

// New creates a monitor. stallAfter is how long a running task may go without
// a progress signal before it is declared stuck; interval is how often the
// sweep runs.
func New(g *graph.Graph, canceler Canceler, audit auditlog.Log, bus *events.Bus, log *logging.Logger, stallAfter, interval time.Duration) *Monitor {
	if stallAfter <= 0 {
		stallAfter = 20 * time.Minute
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		graph:      g,
		canceler:   canceler,
		audit:      audit,
		bus:        bus,
		log:        log.WithComponent("monitor"),
		stallAfter: stallAfter,
		interval:   interval,
		now:        time.Now,
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep performs one pass over the graph, marking every silent running task
// stuck and cancelling its execution. It returns the IDs of tasks it stalled.
func (m *Monitor) Sweep(ctx context.Context) []string {
	now := m.now()
	var stalled []string

	for _, t := range m.graph.Tasks() {
		if t.Status != graph.StatusRunning {
			continue
		}
		silence := now.Sub(t.LastProgress)
		if silence < m.stallAfter {
			continue
		}

		reason := fmt.Sprintf("no progress for %s", silence.Round(time.Second))
		if err := m.graph.MarkStuck(t.ID, reason); err != nil {
			// The task finished between the read and the mark. Not a stall.
			continue
		}
		if err := m.audit.AppendTransition(ctx, auditlog.Transition{
			TaskID: t.ID,
			From:   graph.StatusRunning,
			To:     graph.StatusStuck,
			Actor:  "monitor",
			Reason: reason,
		}); err != nil {
			m.log.Error("recording stall transition", "task_id", t.ID, "error", err)
		}

		m.log.Warn("stall inferred", "task_id", t.ID, "silence", silence.Round(time.Second).String())
		m.bus.Publish(events.TopicTask, events.TaskStuckEvent{
			ID:        t.ID,
			Silence:   silence,
			Timestamp: now,
		})
		m.canceler.Cancel(t.ID)
		stalled = append(stalled, t.ID)
	}

	return stalled
}
