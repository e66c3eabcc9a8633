// Package backend defines the pluggable execution capability: a single
// Execute operation that attempts a task and reports a confidence-scored
// outcome. Concrete adapters run subprocesses; the engine never depends on
// what is inside one.
package backend

import (
	"context"
	"fmt"

	"github.com/aristath/taskengine/internal/graph"
)

// Backend is the one capability the engine dispatches over. Implementations
// must honor ctx cancellation (the monitor hard-cancels stalled executions)
// and should call ExecContext.Heartbeat as work progresses.
type Backend interface {
	Execute(ctx context.Context, task *graph.Task, ec ExecContext) (Outcome, error)

	// Name identifies the backend for attempt records and logs.
	Name() string
}

// New builds a backend from configuration. The type switch is the whole
// extension point: new adapter kinds register here.
func New(name string, cfg Config, pm *ProcessManager) (Backend, error) {
	switch cfg.Type {
	case "cli":
		return NewCLIBackend(name, cfg, pm), nil
	case "shell":
		return NewShellBackend(name, cfg, pm), nil
	default:
		return nil, fmt.Errorf("unknown backend type %q for %q", cfg.Type, name)
	}
}

// Registry holds instantiated backends keyed by configured name.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry instantiates every configured backend.
func NewRegistry(configs map[string]Config, pm *ProcessManager) (*Registry, error) {
	r := &Registry{backends: make(map[string]Backend, len(configs))}
	for name, cfg := range configs {
		b, err := New(name, cfg, pm)
		if err != nil {
			return nil, err
		}
		r.backends[name] = b
	}
	return r, nil
}

// Register adds or replaces a backend instance. Tests use this to inject
// fakes without touching configuration.
func (r *Registry) Register(name string, b Backend) {
	if r.backends == nil {
		r.backends = make(map[string]Backend)
	}
	r.backends[name] = b
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("no backend registered as %q", name)
	}
	return b, nil
}
