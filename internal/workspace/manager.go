// Package workspace allocates per-attempt scratch directories: captured
// execution logs, verification output, and whatever artifacts a backend
// leaves behind live here, keyed by task and attempt number.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Info describes one allocated attempt workspace.
type Info struct {
	TaskID  string
	Attempt int
	Path    string // Scratch directory for this attempt
	LogPath string // Execution log inside the scratch directory
}

// Manager creates and prunes attempt workspaces under a root directory.
type Manager struct {
	root string
}

// NewManager creates a manager rooted at dir (default ".taskengine/workspaces").
func NewManager(dir string) *Manager {
	if dir == "" {
		dir = filepath.Join(".taskengine", "workspaces")
	}
	return &Manager{root: dir}
}

// Root returns the workspace root directory.
func (m *Manager) Root() string { return m.root }

// Create allocates the scratch directory for the given task attempt.
// Recreating an existing attempt directory (crash recovery) is not an error.
func (m *Manager) Create(taskID string, attempt int) (*Info, error) {
	path := filepath.Join(m.root, sanitize(taskID), fmt.Sprintf("attempt-%d", attempt))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace %s: %w", path, err)
	}
	return &Info{
		TaskID:  taskID,
		Attempt: attempt,
		Path:    path,
		LogPath: filepath.Join(path, "execution.log"),
	}, nil
}

// TaskDir returns the directory holding every attempt of a task, whether or
// not it exists yet. The run summary points humans here.
func (m *Manager) TaskDir(taskID string) string {
	return filepath.Join(m.root, sanitize(taskID))
}

// Prune removes workspaces of tasks not present in keep. Run at startup so
// directories from deleted tasks of earlier plans do not accumulate; blocked
// tasks keep their history, so their workspaces are always in keep.
func (m *Manager) Prune(keep map[string]bool) error {
	entries, err := os.ReadDir(m.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading workspace root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || keep[entry.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, entry.Name())); err != nil {
			return fmt.Errorf("pruning workspace %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// sanitize keeps task IDs filesystem-safe.
func sanitize(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
