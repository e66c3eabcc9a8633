package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateAndTaskDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "ws"))

	info, err := m.Create("task/one", 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := os.Stat(info.Path); err != nil {
		t.Fatalf("workspace dir missing: %v", err)
	}
	if filepath.Dir(info.LogPath) != info.Path {
		t.Errorf("LogPath %q not inside workspace %q", info.LogPath, info.Path)
	}

	// Slash in the task ID must not escape the root.
	if filepath.Dir(filepath.Dir(info.Path)) != m.Root() {
		t.Errorf("workspace %q escaped root %q", info.Path, m.Root())
	}

	// Re-creating the same attempt is idempotent.
	if _, err := m.Create("task/one", 1); err != nil {
		t.Fatalf("Create (again): %v", err)
	}
}

func TestPruneKeepsListedTasks(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "ws"))

	if _, err := m.Create("keep-me", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create("stale", 3); err != nil {
		t.Fatal(err)
	}

	if err := m.Prune(map[string]bool{"keep-me": true}); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	if _, err := os.Stat(m.TaskDir("keep-me")); err != nil {
		t.Error("kept task workspace was pruned")
	}
	if _, err := os.Stat(m.TaskDir("stale")); !os.IsNotExist(err) {
		t.Error("stale workspace survived prune")
	}
}

func TestPruneMissingRoot(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "never-created"))
	if err := m.Prune(nil); err != nil {
		t.Fatalf("Prune on missing root: %v", err)
	}
}
