package graph

import (
	"reflect"
	"testing"
)

func buildGraph(t *testing.T, tasks ...TaskSpec) *Graph {
	t.Helper()
	g, err := docWithTasks(tasks...).Compile()
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	return g
}

func TestStatusTransitions(t *testing.T) {
	g := buildGraph(t, TaskSpec{ID: "a", Subject: "task a"})

	if err := g.MarkComplete("a"); err == nil {
		t.Error("MarkComplete on pending task should fail")
	}
	if err := g.MarkRunning("a", "fast"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := g.MarkRunning("a", "fast"); err == nil {
		t.Error("MarkRunning on running task should fail")
	}

	task, _ := g.Task("a")
	if task.Backend != "fast" {
		t.Errorf("Backend = %q, want fast", task.Backend)
	}
	if task.StartedAt.IsZero() || task.LastProgress.IsZero() {
		t.Error("StartedAt/LastProgress not stamped on MarkRunning")
	}

	if err := g.MarkStuck("a", "no progress for 20m"); err != nil {
		t.Fatalf("MarkStuck: %v", err)
	}
	if err := g.ReturnToPending("a"); err != nil {
		t.Fatalf("ReturnToPending: %v", err)
	}
	task, _ = g.Task("a")
	if task.Status != StatusPending {
		t.Errorf("Status = %s, want pending", task.Status)
	}
	if task.LastError != "no progress for 20m" {
		t.Errorf("LastError = %q, want stall marker preserved", task.LastError)
	}

	if err := g.MarkRunning("a", "fast"); err != nil {
		t.Fatalf("MarkRunning after retry: %v", err)
	}
	if err := g.MarkComplete("a"); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	task, _ = g.Task("a")
	if !task.Status.IsTerminal() {
		t.Errorf("complete should be terminal")
	}
	if task.CompletedAt.IsZero() {
		t.Error("CompletedAt not stamped")
	}
}

func TestRecordAttemptNeverExceedsLimit(t *testing.T) {
	g := buildGraph(t, TaskSpec{ID: "a", Subject: "task a", MaxAttempts: 2})

	if err := g.RecordAttempt("a", 55); err != nil {
		t.Fatalf("attempt 1: %v", err)
	}
	if err := g.RecordAttempt("a", 40); err != nil {
		t.Fatalf("attempt 2: %v", err)
	}
	if err := g.RecordAttempt("a", 90); err == nil {
		t.Fatal("attempt 3 should exceed MaxAttempts=2")
	}

	task, _ := g.Task("a")
	if task.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", task.Attempt)
	}
	if !reflect.DeepEqual(task.Confidences, []int{55, 40}) {
		t.Errorf("Confidences = %v, want [55 40]", task.Confidences)
	}
}

func TestTransitiveDependents(t *testing.T) {
	g := buildGraph(t,
		TaskSpec{ID: "root", Subject: "root"},
		TaskSpec{ID: "mid1", Subject: "mid1", DependsOn: []string{"root"}},
		TaskSpec{ID: "mid2", Subject: "mid2", DependsOn: []string{"root"}},
		TaskSpec{ID: "leaf", Subject: "leaf", DependsOn: []string{"mid1", "mid2"}},
		TaskSpec{ID: "unrelated", Subject: "unrelated"},
	)

	got := g.TransitiveDependents("root")
	want := []string{"leaf", "mid1", "mid2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TransitiveDependents(root) = %v, want %v", got, want)
	}

	if got := g.TransitiveDependents("leaf"); len(got) != 0 {
		t.Errorf("TransitiveDependents(leaf) = %v, want empty", got)
	}
}

func TestTaskCloneIsolation(t *testing.T) {
	g := buildGraph(t, TaskSpec{ID: "a", Subject: "task a", Files: []string{"x.go"}})

	task, _ := g.Task("a")
	task.Files[0] = "mutated.go"
	task.Status = StatusComplete

	fresh, _ := g.Task("a")
	if fresh.Files[0] != "x.go" {
		t.Error("mutating a clone leaked into the graph")
	}
	if fresh.Status != StatusPending {
		t.Error("mutating a clone's status leaked into the graph")
	}
}

func TestMarkBlocked(t *testing.T) {
	g := buildGraph(t, TaskSpec{ID: "a", Subject: "task a"})

	if err := g.MarkBlocked("a", "escalation exhausted"); err != nil {
		t.Fatalf("MarkBlocked: %v", err)
	}
	task, _ := g.Task("a")
	if task.Status != StatusBlocked {
		t.Errorf("Status = %s, want blocked", task.Status)
	}
	if err := g.MarkBlocked("a", "again"); err == nil {
		t.Error("MarkBlocked on terminal task should fail")
	}
}
