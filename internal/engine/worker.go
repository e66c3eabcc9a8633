package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/taskengine/internal/auditlog"
	"github.com/aristath/taskengine/internal/council"
	"github.com/aristath/taskengine/internal/dispatch"
	"github.com/aristath/taskengine/internal/events"
	"github.com/aristath/taskengine/internal/graph"
)

// runTask executes one attempt end to end: workspace, tier execution,
// verification, audit records, and the resulting transition. It never
// returns an error; every failure mode becomes task state.
func (e *Engine) runTask(ctx context.Context, g *graph.Graph, id string, tier int) {
	t, ok := g.Task(id)
	if !ok {
		return
	}
	attemptNum := t.Attempt + 1

	e.appendTransition(ctx, id, graph.StatusPending, graph.StatusRunning, "scheduler", "")
	e.bus.Publish(events.TopicTask, events.TaskStartedEvent{
		ID: id, Attempt: attemptNum, Backend: t.Backend, Tier: tier, Timestamp: time.Now(),
	})

	ws, err := e.workspaces.Create(id, attemptNum)
	if err != nil {
		e.failAttempt(ctx, g, t, tier, attemptNum, "", 0, "", fmt.Sprintf("creating workspace: %v", err))
		return
	}

	heartbeat := func(line string) {
		g.MarkProgress(id)
		e.bus.Publish(events.TopicTask, events.TaskProgressEvent{ID: id, Line: line, Timestamp: time.Now()})
	}

	started := time.Now()
	report, execErr := e.council.Execute(ctx, t, tier, ws, heartbeat)
	ended := time.Now()

	cur, _ := g.Task(id)
	switch {
	case execErr == nil && report.Outcome.Result == graph.ResultSuccess:
		verifyOut, verr := dispatch.Verify(ctx, t.Verify, e.cfg.ProjectDir, heartbeat)
		if verr == nil {
			e.completeAttempt(ctx, g, id, report, attemptNum, started, ended, ws.LogPath, verifyOut)
			return
		}
		if ctx.Err() != nil {
			return // shutdown mid-verify; recovery handles it next run
		}
		// The backend's claim does not survive failing checks.
		e.recordAttempt(ctx, g, id, graph.Attempt{
			ID: uuid.NewString(), TaskID: id, Number: attemptNum,
			Backend: report.Backend, Tier: tier,
			StartedAt: started, EndedAt: ended,
			Result: graph.ResultFailure, Confidence: report.Outcome.Confidence,
			Rationale: report.Outcome.Rationale, LogRef: ws.LogPath, VerifyOut: verifyOut,
		})
		reason := fmt.Sprintf("verification failed: %v", verr)
		e.markFailure(ctx, g, id, tier, reason)

	case execErr == nil:
		// The tier ran and reported failure (or believed the task blocked).
		e.recordAttempt(ctx, g, id, graph.Attempt{
			ID: uuid.NewString(), TaskID: id, Number: attemptNum,
			Backend: report.Backend, Tier: tier,
			StartedAt: started, EndedAt: ended,
			Result: report.Outcome.Result, Confidence: report.Outcome.Confidence,
			Rationale: report.Outcome.Rationale, LogRef: ws.LogPath,
		})
		reason := report.Outcome.Rationale
		if reason == "" {
			reason = fmt.Sprintf("backend reported %s", report.Outcome.Result)
		}
		e.markFailure(ctx, g, id, tier, reason)

	case errors.Is(execErr, dispatch.ErrDeadline) || cur.Status == graph.StatusStuck:
		e.stallAttempt(ctx, g, id, tier, attemptNum, started, ended, ws.LogPath, execErr, cur.Status)

	default:
		if ctx.Err() != nil {
			return // engine shutdown; the audit log still says running, recovery demotes it
		}
		e.failAttempt(ctx, g, t, tier, attemptNum, report.Backend, report.Outcome.Confidence, ws.LogPath,
			execErr.Error())
	}
}

// completeAttempt is the happy path: record the attempt, then the transition.
func (e *Engine) completeAttempt(ctx context.Context, g *graph.Graph, id string, report council.Report, attemptNum int, started, ended time.Time, logRef, verifyOut string) {
	e.recordAttempt(ctx, g, id, graph.Attempt{
		ID: uuid.NewString(), TaskID: id, Number: attemptNum,
		Backend: report.Backend, Tier: report.Tier,
		StartedAt: started, EndedAt: ended,
		Result: graph.ResultSuccess, Confidence: report.Outcome.Confidence,
		Rationale: report.Outcome.Rationale, LogRef: logRef, VerifyOut: verifyOut,
	})

	if err := g.MarkComplete(id); err != nil {
		if cur, ok := g.Task(id); ok && cur.Status == graph.StatusStuck {
			// The monitor declared a stall while the checks were still
			// running. The attempt is already recorded; the task goes back
			// through the ladder instead of sitting in stuck forever.
			e.retryOrBlock(ctx, g, id, report.Tier, graph.StatusStuck, "stalled during verification")
			return
		}
		e.log.Error("completing task", "task_id", id, "error", err)
		return
	}
	e.appendTransition(ctx, id, graph.StatusRunning, graph.StatusComplete, "dispatcher", "")
	e.bus.Publish(events.TopicTask, events.TaskCompletedEvent{
		ID: id, Attempt: attemptNum, Confidence: report.Outcome.Confidence,
		Duration: ended.Sub(started), Timestamp: time.Now(),
	})
	e.log.Info("task complete", "task_id", id, "attempt", attemptNum, "confidence", report.Outcome.Confidence)
}

// stallAttempt handles both monitor-inferred stalls and blown execution
// budgets; the two are indistinguishable downstream.
func (e *Engine) stallAttempt(ctx context.Context, g *graph.Graph, id string, tier, attemptNum int, started, ended time.Time, logRef string, execErr error, status graph.Status) {
	reason := "stalled: no progress within threshold"
	if errors.Is(execErr, dispatch.ErrDeadline) {
		reason = "stalled: execution budget exceeded"
	}

	if status == graph.StatusRunning {
		// Budget expiry beat the monitor to it; make the stall visible.
		if err := g.MarkStuck(id, reason); err == nil {
			e.appendTransition(ctx, id, graph.StatusRunning, graph.StatusStuck, "dispatcher", reason)
		}
	}

	e.recordAttempt(ctx, g, id, graph.Attempt{
		ID: uuid.NewString(), TaskID: id, Number: attemptNum,
		Backend: e.primaryBackend(tier), Tier: tier,
		StartedAt: started, EndedAt: ended,
		Result: graph.ResultFailure, Confidence: 0,
		Rationale: reason, LogRef: logRef,
	})
	e.retryOrBlock(ctx, g, id, tier, graph.StatusStuck, reason)
}

// failAttempt covers infrastructure failures where no outcome exists.
func (e *Engine) failAttempt(ctx context.Context, g *graph.Graph, t *graph.Task, tier, attemptNum int, backendName string, confidence int, logRef, reason string) {
	if backendName == "" {
		backendName = e.primaryBackend(tier)
	}
	e.recordAttempt(ctx, g, t.ID, graph.Attempt{
		ID: uuid.NewString(), TaskID: t.ID, Number: attemptNum,
		Backend: backendName, Tier: tier,
		StartedAt: time.Now(), EndedAt: time.Now(),
		Result: graph.ResultFailure, Confidence: confidence,
		Rationale: reason, LogRef: logRef,
	})
	e.markFailure(ctx, g, t.ID, tier, reason)
}

// markFailure moves a running task to error and decides its future.
func (e *Engine) markFailure(ctx context.Context, g *graph.Graph, id string, tier int, reason string) {
	if err := g.MarkError(id, reason); err != nil {
		if cur, ok := g.Task(id); ok && cur.Status == graph.StatusStuck {
			e.retryOrBlock(ctx, g, id, tier, graph.StatusStuck, reason)
			return
		}
		e.log.Error("marking task failed", "task_id", id, "error", err)
		return
	}
	e.appendTransition(ctx, id, graph.StatusRunning, graph.StatusError, "dispatcher", reason)
	e.retryOrBlock(ctx, g, id, tier, graph.StatusError, reason)
}

// retryOrBlock returns a failed task to the scheduler if the escalation
// ladder has another rung and the attempt budget allows it, otherwise blocks
// it permanently with a diagnosis.
func (e *Engine) retryOrBlock(ctx context.Context, g *graph.Graph, id string, tier int, from graph.Status, reason string) {
	cur, ok := g.Task(id)
	if !ok {
		return
	}

	nextTier, more := council.TierFor(cur.Confidences, e.council.Thresholds())
	if cur.Attempt >= cur.MaxAttempts || !more {
		e.blockTask(ctx, id, from, e.council.Diagnose(ctx, cur))
		return
	}

	if err := g.ReturnToPending(id); err != nil {
		e.log.Error("returning task to pending", "task_id", id, "error", err)
		return
	}
	e.appendTransition(ctx, id, from, graph.StatusPending, "council", "")

	e.bus.Publish(events.TopicTask, events.TaskFailedEvent{
		ID: id, Attempt: cur.Attempt, Reason: reason, Timestamp: time.Now(),
	})
	if nextTier != tier {
		e.bus.Publish(events.TopicTask, events.TaskEscalatedEvent{
			ID: id, FromTier: tier, ToTier: nextTier, Timestamp: time.Now(),
		})
	}
	e.log.Info("task will retry", "task_id", id, "attempt", cur.Attempt, "next_tier", nextTier)
}

// blockTask makes a task terminally blocked and persists the diagnosis.
func (e *Engine) blockTask(ctx context.Context, id string, from graph.Status, diagnosis string) {
	g := e.Graph()
	if err := g.MarkBlocked(id, diagnosis); err != nil {
		e.log.Error("blocking task", "task_id", id, "error", err)
		return
	}
	e.appendTransition(ctx, id, from, graph.StatusBlocked, "council", diagnosis)
	e.bus.Publish(events.TopicTask, events.TaskBlockedEvent{ID: id, Diagnosis: diagnosis, Timestamp: time.Now()})

	dependents := g.TransitiveDependents(id)
	e.log.Warn("task blocked, needs a human",
		"task_id", id, "starved_dependents", len(dependents))
}

// recordAttempt keeps the graph's attempt counter and the audit log in step.
func (e *Engine) recordAttempt(ctx context.Context, g *graph.Graph, id string, a graph.Attempt) {
	if err := g.RecordAttempt(id, a.Confidence); err != nil {
		e.log.Error("recording attempt", "task_id", id, "error", err)
	}
	if err := e.audit.AppendAttempt(ctx, a); err != nil {
		e.log.Error("persisting attempt", "task_id", id, "error", err)
	}
}

func (e *Engine) appendTransition(ctx context.Context, id string, from, to graph.Status, actor, reason string) {
	if err := e.audit.AppendTransition(ctx, auditlog.Transition{
		TaskID: id, From: from, To: to, Actor: actor, Reason: reason,
	}); err != nil {
		e.log.Error("persisting transition", "task_id", id, "from", string(from), "to", string(to), "error", err)
	}
}
