// Package engine is the authoritative coordinator. One loop drives
// resolve→batch→dispatch ticks over a single graph; task executions run as
// independent goroutines supervised by the stall monitor, and every state
// change flows through the append-only audit log. The loop never crashes
// because one task failed: exhaustion blocks that task and starves its
// transitive dependents, nothing else.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskengine/internal/auditlog"
	"github.com/aristath/taskengine/internal/backend"
	"github.com/aristath/taskengine/internal/config"
	"github.com/aristath/taskengine/internal/council"
	"github.com/aristath/taskengine/internal/dispatch"
	"github.com/aristath/taskengine/internal/events"
	"github.com/aristath/taskengine/internal/graph"
	"github.com/aristath/taskengine/internal/logging"
	"github.com/aristath/taskengine/internal/monitor"
	"github.com/aristath/taskengine/internal/scheduler"
	"github.com/aristath/taskengine/internal/workspace"
)

// Options configures an engine. Registry, Audit and Bus are injection points;
// leaving them nil builds the real thing from Config.
type Options struct {
	Config        *config.EngineConfig
	PlanPath      string
	AuditPath     string // defaults to {project}/.taskengine/audit.db
	MaxIterations int    // scheduling tick cap, 0 = unlimited
	WatchPlan     bool

	Logger    *logging.Logger
	Registry  *backend.Registry
	Audit     auditlog.Log
	Bus       *events.Bus
	Processes *backend.ProcessManager
}

// Engine owns one run of one plan.
type Engine struct {
	cfg      *config.EngineConfig
	planPath string

	gMu sync.RWMutex
	g   *graph.Graph

	dispatcher *dispatch.Dispatcher
	council    *council.Council
	audit      auditlog.Log
	ownAudit   bool
	workspaces *workspace.Manager
	bus        *events.Bus
	ownBus     bool
	log        *logging.Logger

	maxIterations int
	watchPlan     bool

	inflight  atomic.Int64
	reloadMu  sync.Mutex
	reload    *graph.Graph
	monCancel context.CancelFunc
}

// New loads the plan, opens the audit log, restores any prior run state from
// it, and wires the execution stack.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, errors.New("engine requires a configuration")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscard()
	}

	g, err := graph.Load(opts.PlanPath)
	if err != nil {
		return nil, err
	}

	audit := opts.Audit
	ownAudit := false
	if audit == nil {
		path := opts.AuditPath
		if path == "" {
			path = filepath.Join(opts.Config.ProjectDir, ".taskengine", "audit.db")
		}
		sl, err := auditlog.NewSQLiteLog(context.Background(), path)
		if err != nil {
			return nil, err
		}
		audit = sl
		ownAudit = true
	}

	registry := opts.Registry
	if registry == nil {
		pm := opts.Processes
		if pm == nil {
			pm = backend.NewProcessManager()
		}
		registry, err = backend.NewRegistry(opts.Config.Backends, pm)
		if err != nil {
			if ownAudit {
				audit.Close()
			}
			return nil, err
		}
	}

	bus := opts.Bus
	ownBus := false
	if bus == nil {
		bus = events.NewBus()
		ownBus = true
	}

	cfg := opts.Config
	dispatcher := dispatch.NewDispatcher(registry, func(c graph.Complexity) time.Duration {
		return cfg.TimeoutFor(string(c))
	}, opts.Logger)

	e := &Engine{
		cfg:           cfg,
		planPath:      opts.PlanPath,
		g:             g,
		dispatcher:    dispatcher,
		council:       council.New(dispatcher, cfg.Tiers, audit, cfg.ProjectDir, opts.Logger),
		audit:         audit,
		ownAudit:      ownAudit,
		workspaces:    workspace.NewManager(cfg.WorkspaceDir),
		bus:           bus,
		ownBus:        ownBus,
		log:           opts.Logger.WithComponent("engine"),
		maxIterations: opts.MaxIterations,
		watchPlan:     opts.WatchPlan,
	}

	if err := e.resume(context.Background(), g); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// resume rebuilds run state from the audit log. Tasks the log shows as
// running (or stuck or errored mid-handling) were interrupted by a crash;
// they go back to pending with a recovery note, without consuming an attempt.
func (e *Engine) resume(ctx context.Context, g *graph.Graph) error {
	snap, err := auditlog.Replay(ctx, e.audit)
	if err != nil {
		return fmt.Errorf("replaying audit log: %w", err)
	}
	if err := snap.Apply(g); err != nil {
		return fmt.Errorf("restoring run state: %w", err)
	}

	for _, t := range g.Tasks() {
		switch t.Status {
		case graph.StatusRunning, graph.StatusStuck, graph.StatusError:
			if err := g.RestoreStatus(t.ID, graph.StatusPending, t.Attempt, t.LastError); err != nil {
				return err
			}
			if err := e.audit.AppendTransition(ctx, auditlog.Transition{
				TaskID: t.ID,
				From:   t.Status,
				To:     graph.StatusPending,
				Actor:  "engine",
				Reason: "recovered after interrupted run",
			}); err != nil {
				return err
			}
			e.log.Info("recovered interrupted task", "task_id", t.ID, "was", string(t.Status))
		}
	}
	return nil
}

// Graph returns the current live graph.
func (e *Engine) Graph() *graph.Graph {
	e.gMu.RLock()
	defer e.gMu.RUnlock()
	return e.g
}

func (e *Engine) setGraph(g *graph.Graph) {
	e.gMu.Lock()
	e.g = g
	e.gMu.Unlock()
}

// Run drives the coordinator loop until the plan is finished, the iteration
// cap is hit, or the context is cancelled. It always returns a summary of
// where every task ended up.
func (e *Engine) Run(ctx context.Context) (*RunSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.pruneWorkspaces()
	e.startMonitor(ctx)
	defer e.stopMonitor()
	e.bridgeEvents(ctx)

	if e.watchPlan {
		watcher := graph.NewWatcher(e.planPath, e.onPlanEdit)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				e.log.Error("plan watcher stopped", "error", err)
			}
		}()
	}

	workers := &errgroup.Group{}
	workers.SetLimit(2 * e.maxParallel())

	ticker := time.NewTicker(e.cfg.Scheduler.TickInterval.Std())
	defer ticker.Stop()

	iterations := 0
	for ctx.Err() == nil {
		e.applyPendingReload(ctx)

		var batch []*graph.Task
		inflight := e.inflight.Load()
		if !e.reloadPending() {
			batch = scheduler.NextBatch(e.Graph(), e.maxParallel())
		}

		if len(batch) > 0 {
			ids := make([]string, len(batch))
			for i, t := range batch {
				ids[i] = t.ID
			}
			phase, _ := scheduler.ActivePhase(e.Graph())
			e.bus.Publish(events.TopicRun, events.BatchPlannedEvent{
				Phase: phase, Tasks: ids, Timestamp: time.Now(),
			})
			for _, t := range batch {
				e.startTask(ctx, workers, t)
			}
		} else if inflight == 0 && !e.reloadPending() {
			break
		}

		iterations++
		if e.maxIterations > 0 && iterations >= e.maxIterations {
			e.log.Warn("iteration cap reached", "iterations", iterations)
			break
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	runErr := ctx.Err()
	cancel()
	workers.Wait()
	return e.Summary(), runErr
}

// startTask claims the task (pending→running) and hands it to a worker. The
// claim happens here, not in the worker, so the next tick's batch never
// double-admits a task whose goroutine has not been scheduled yet.
func (e *Engine) startTask(ctx context.Context, workers *errgroup.Group, t *graph.Task) {
	g := e.Graph()

	tier, err := e.council.Plan(t)
	if errors.Is(err, council.ErrExhausted) {
		// Only reachable through a hand-edited or historic audit log; a live
		// run blocks a task the moment its ladder runs out.
		e.blockTask(ctx, t.ID, t.Status, e.council.Diagnose(ctx, t))
		return
	}
	if err != nil {
		e.log.Error("planning tier", "task_id", t.ID, "error", err)
		return
	}

	if err := g.MarkRunning(t.ID, e.primaryBackend(tier)); err != nil {
		return
	}

	e.inflight.Add(1)
	started := workers.TryGo(func() error {
		defer e.inflight.Add(-1)
		e.runTask(ctx, g, t.ID, tier)
		return nil
	})
	if !started {
		e.inflight.Add(-1)
		_ = g.RestoreStatus(t.ID, graph.StatusPending, t.Attempt, t.LastError)
	}
}

// primaryBackend names the backend an attempt at the given tier is credited
// to until the tier reports which one actually did the work.
func (e *Engine) primaryBackend(tier int) string {
	switch tier {
	case council.TierFast:
		return e.cfg.Tiers.Fast
	case council.TierPair:
		return e.cfg.Tiers.Pair[0]
	case council.TierDeep, council.TierFinal:
		return e.cfg.Tiers.Deep
	default:
		return e.cfg.Tiers.Synthesizer
	}
}

func (e *Engine) maxParallel() int {
	if e.cfg.Scheduler.MaxParallel > 0 {
		return e.cfg.Scheduler.MaxParallel
	}
	return 4
}

// pruneWorkspaces drops scratch directories for tasks no longer in the plan.
func (e *Engine) pruneWorkspaces() {
	keep := make(map[string]bool)
	for _, t := range e.Graph().Tasks() {
		keep[t.ID] = true
	}
	if err := e.workspaces.Prune(keep); err != nil {
		e.log.Warn("pruning workspaces", "error", err)
	}
}

// startMonitor launches the stall watchdog over the current graph.
func (e *Engine) startMonitor(ctx context.Context) {
	monCtx, cancel := context.WithCancel(ctx)
	e.monCancel = cancel
	m := monitor.New(e.Graph(), e.dispatcher, e.audit, e.bus, e.log,
		e.cfg.Scheduler.StallThreshold.Std(), e.cfg.Scheduler.MonitorInterval.Std())
	go m.Run(monCtx)
}

func (e *Engine) stopMonitor() {
	if e.monCancel != nil {
		e.monCancel()
	}
}

// bridgeEvents mirrors every bus event into the structured log.
func (e *Engine) bridgeEvents(ctx context.Context) {
	ch := e.bus.SubscribeAll(512)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				e.log.Debug("event", "type", ev.EventType(), "task_id", ev.TaskID())
			}
		}
	}()
}

// onPlanEdit receives watcher callbacks. Valid graphs are staged for the
// coordinator to swap in once the run is quiescent; invalid edits keep the
// last valid graph live.
func (e *Engine) onPlanEdit(g *graph.Graph, err error) {
	if err != nil {
		e.log.Warn("plan edit rejected", "error", err)
		e.bus.Publish(events.TopicRun, events.PlanReloadedEvent{
			Valid: false, Problem: err.Error(), Timestamp: time.Now(),
		})
		return
	}
	e.reloadMu.Lock()
	e.reload = g
	e.reloadMu.Unlock()
	e.log.Info("plan edit staged, draining running tasks before reload")
}

func (e *Engine) reloadPending() bool {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()
	return e.reload != nil
}

// applyPendingReload swaps in a staged plan once nothing is in flight. The
// new graph starts from the audit log's view of the world, so completed work
// stays completed and new tasks start pending.
func (e *Engine) applyPendingReload(ctx context.Context) {
	e.reloadMu.Lock()
	staged := e.reload
	e.reloadMu.Unlock()
	if staged == nil || e.inflight.Load() != 0 {
		return
	}

	if err := e.resume(ctx, staged); err != nil {
		e.log.Error("applying plan reload", "error", err)
		return
	}

	e.reloadMu.Lock()
	e.reload = nil
	e.reloadMu.Unlock()

	e.setGraph(staged)
	e.stopMonitor()
	e.startMonitor(ctx)
	e.pruneWorkspaces()

	e.bus.Publish(events.TopicRun, events.PlanReloadedEvent{Valid: true, Timestamp: time.Now()})
	e.log.Info("plan reloaded")
}

// Close releases resources the engine created itself.
func (e *Engine) Close() error {
	var err error
	if e.ownBus {
		e.bus.Close()
	}
	if e.ownAudit {
		err = e.audit.Close()
	}
	return err
}
