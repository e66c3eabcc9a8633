package graph

import (
	"os"
	"path/filepath"
	"testing"
)

const samplePlan = `
version: 1
name: sample
phases:
  - id: phase-1
    name: Foundations
    tasks:
      - id: schema
        subject: Define the schema
        files: [internal/schema.go]
        verify: ["go build ./..."]
      - id: store
        subject: Implement the store
        files: [internal/store.go]
        depends_on: [schema]
        complexity: high
  - id: phase-2
    tasks:
      - id: api
        subject: Expose the API
        files: [internal/api.go]
        depends_on: [store]
`

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(path, []byte(samplePlan), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if got := len(g.Tasks()); got != 3 {
		t.Errorf("task count = %d, want 3", got)
	}
	phases := g.Phases()
	if len(phases) != 2 {
		t.Fatalf("phase count = %d, want 2", len(phases))
	}
	if phases[0].ID != "phase-1" || phases[1].ID != "phase-2" {
		t.Errorf("phase order = %s, %s", phases[0].ID, phases[1].ID)
	}

	task, ok := g.Task("store")
	if !ok {
		t.Fatal("task store not found")
	}
	if task.Complexity != ComplexityHigh {
		t.Errorf("Complexity = %s, want high", task.Complexity)
	}
	if task.Phase != "phase-1" {
		t.Errorf("Phase = %s, want phase-1", task.Phase)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(path, []byte("phases: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for malformed YAML")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("error is %T, want *ValidationError", err)
	}
}

func TestSaveAtomicOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")

	doc := docWithTasks(TaskSpec{ID: "a", Subject: "task a"})
	if err := Save(path, doc); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// Overwrite with a second version; the rename must replace in place.
	doc.Phases[0].Tasks = append(doc.Phases[0].Tasks, TaskSpec{ID: "b", Subject: "task b"})
	if err := Save(path, doc); err != nil {
		t.Fatalf("Save() overwrite error: %v", err)
	}

	g, err := Load(path)
	if err != nil {
		t.Fatalf("Load() after save: %v", err)
	}
	if got := len(g.Tasks()); got != 2 {
		t.Errorf("task count = %d, want 2", got)
	}

	// No temp debris left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the plan file", len(entries))
	}
}
