// Package dispatch runs single task attempts against a backend, wrapping the
// raw execution with a complexity-derived deadline, retry with backoff for
// infrastructure faults, and a per-backend circuit breaker. It also keeps the
// cancellation handles the stall monitor uses to kill runaway executions.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/taskengine/internal/backend"
	"github.com/aristath/taskengine/internal/graph"
	"github.com/aristath/taskengine/internal/logging"
)

// ErrDeadline marks an execution that exceeded its complexity-derived time
// budget. The engine treats it exactly like an inferred stall.
var ErrDeadline = errors.New("execution deadline exceeded")

// TimeoutFunc maps a task's complexity bucket to its wall-clock budget.
type TimeoutFunc func(c graph.Complexity) time.Duration

// Dispatcher executes attempts. Safe for concurrent use; one dispatcher
// serves every worker in a run.
type Dispatcher struct {
	registry *backend.Registry
	breakers *BreakerRegistry
	retry    RetryConfig
	timeout  TimeoutFunc
	log      *logging.Logger

	mu     sync.Mutex
	nextID uint64
	active map[string]map[uint64]context.CancelFunc
}

// NewDispatcher creates a dispatcher over the given backend registry. A nil
// timeout function gets a flat 20 minute budget.
func NewDispatcher(registry *backend.Registry, timeout TimeoutFunc, log *logging.Logger) *Dispatcher {
	if timeout == nil {
		timeout = func(graph.Complexity) time.Duration { return 20 * time.Minute }
	}
	return &Dispatcher{
		registry: registry,
		breakers: NewBreakerRegistry(log),
		retry:    DefaultRetryConfig(),
		timeout:  timeout,
		log:      log.WithComponent("dispatch"),
		active:   make(map[string]map[uint64]context.CancelFunc),
	}
}

// SetRetryConfig overrides the retry policy. Tests shrink the intervals.
func (d *Dispatcher) SetRetryConfig(cfg RetryConfig) { d.retry = cfg }

// Run executes one attempt of the task on the named backend. It blocks until
// the backend finishes, the deadline fires, or Cancel is called for the task.
// A deadline expiry returns an error wrapping ErrDeadline.
func (d *Dispatcher) Run(ctx context.Context, task *graph.Task, backendName string, ec backend.ExecContext) (backend.Outcome, error) {
	b, err := d.registry.Get(backendName)
	if err != nil {
		return backend.Outcome{}, err
	}

	budget := d.timeout(task.Complexity)
	runCtx, cancel := context.WithTimeout(ctx, budget)
	handle := d.register(task.ID, cancel)
	defer d.release(task.ID, handle)
	defer cancel()

	d.log.Debug("executing attempt",
		"task_id", task.ID, "backend", backendName, "attempt", task.Attempt+1, "budget", budget.String())

	started := time.Now()
	out, err := executeWithRetry(runCtx, b, task, ec, d.breakers.Get(backendName), d.retry)
	elapsed := time.Since(started)

	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			d.log.Warn("execution exceeded budget",
				"task_id", task.ID, "backend", backendName, "budget", budget.String())
			return out, fmt.Errorf("%w: %s after %s", ErrDeadline, task.ID, budget)
		}
		d.log.Warn("execution failed",
			"task_id", task.ID, "backend", backendName, "elapsed", elapsed.String(), "error", err)
		return out, err
	}

	d.log.Info("execution finished",
		"task_id", task.ID, "backend", backendName,
		"result", string(out.Result), "confidence", out.Confidence, "elapsed", elapsed.String())
	return out, nil
}

// Cancel hard-cancels every in-flight execution for the task. A
// multi-backend tier has several at once; a stall means all of them go.
// Returns whether anything was actually cancelled. The monitor calls this
// when it infers a stall.
func (d *Dispatcher) Cancel(taskID string) bool {
	d.mu.Lock()
	handles := make([]context.CancelFunc, 0, len(d.active[taskID]))
	for _, cancel := range d.active[taskID] {
		handles = append(handles, cancel)
	}
	d.mu.Unlock()

	for _, cancel := range handles {
		cancel()
	}
	return len(handles) > 0
}

// Active returns the IDs of tasks with at least one in-flight execution.
func (d *Dispatcher) Active() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.active))
	for id := range d.active {
		ids = append(ids, id)
	}
	return ids
}

func (d *Dispatcher) register(taskID string, cancel context.CancelFunc) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	if d.active[taskID] == nil {
		d.active[taskID] = make(map[uint64]context.CancelFunc)
	}
	d.active[taskID][d.nextID] = cancel
	return d.nextID
}

func (d *Dispatcher) release(taskID string, handle uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active[taskID], handle)
	if len(d.active[taskID]) == 0 {
		delete(d.active, taskID)
	}
}
