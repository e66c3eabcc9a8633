package graph

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the plan document whenever it is edited externally. Edits
// that fail validation are surfaced through the callback but never replace
// the last valid graph; deciding what to do with a reload is the caller's
// job.
type Watcher struct {
	path     string
	onReload func(*Graph, error)
	debounce time.Duration
}

// NewWatcher creates a watcher for the plan at path. onReload is invoked with
// the freshly compiled graph, or a nil graph and the validation error.
func NewWatcher(path string, onReload func(*Graph, error)) *Watcher {
	return &Watcher{
		path:     path,
		onReload: onReload,
		debounce: 250 * time.Millisecond,
	}
}

// Run watches until the context is cancelled. Editors typically replace
// files via rename, so the parent directory is watched rather than the file
// itself.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating plan watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	target := filepath.Clean(w.path)
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Debounce editor write bursts into one reload.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			g, err := Load(w.path)
			w.onReload(g, err)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.onReload(nil, fmt.Errorf("plan watcher: %w", err))
		}
	}
}
