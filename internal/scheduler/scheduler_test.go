package scheduler

import (
	"testing"

	"github.com/aristath/taskengine/internal/graph"
)

func compile(t *testing.T, doc *graph.PlanDocument) *graph.Graph {
	t.Helper()
	g, err := doc.Compile()
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	return g
}

func singlePhase(tasks ...graph.TaskSpec) *graph.PlanDocument {
	return &graph.PlanDocument{
		Version: 1,
		Name:    "test",
		Phases:  []graph.PhaseSpec{{ID: "p1", Tasks: tasks}},
	}
}

func ids(tasks []*graph.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestUnblockedRespectsDependencies(t *testing.T) {
	g := compile(t, singlePhase(
		graph.TaskSpec{ID: "a", Subject: "a", Files: []string{"a.go"}},
		graph.TaskSpec{ID: "b", Subject: "b", Files: []string{"b.go"}},
		graph.TaskSpec{ID: "c", Subject: "c", DependsOn: []string{"a", "b"}, Files: []string{"c.go"}},
	))

	got := ids(Unblocked(g))
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Unblocked = %v, want [a b]", got)
	}

	// c stays blocked until BOTH a and b are complete.
	mustRun(t, g, "a")
	if err := g.MarkComplete("a"); err != nil {
		t.Fatal(err)
	}
	for _, task := range Unblocked(g) {
		if task.ID == "c" {
			t.Fatal("c unblocked with only one dependency complete")
		}
	}

	mustRun(t, g, "b")
	if err := g.MarkComplete("b"); err != nil {
		t.Fatal(err)
	}
	got = ids(Unblocked(g))
	if len(got) != 1 || got[0] != "c" {
		t.Fatalf("Unblocked = %v, want [c]", got)
	}
}

func TestUnblockedExcludesFileConflicts(t *testing.T) {
	g := compile(t, singlePhase(
		graph.TaskSpec{ID: "d", Subject: "d", Files: []string{"shared.txt"}},
		graph.TaskSpec{ID: "e", Subject: "e", Files: []string{"shared.txt"}},
	))

	mustRun(t, g, "d")
	for _, task := range Unblocked(g) {
		if task.ID == "e" {
			t.Fatal("e unblocked while d is running on shared.txt")
		}
	}

	if err := g.MarkError("d", "boom"); err != nil {
		t.Fatal(err)
	}
	if err := g.ReturnToPending("d"); err != nil {
		t.Fatal(err)
	}
	got := ids(Unblocked(g))
	if len(got) != 2 {
		t.Fatalf("Unblocked = %v, want both once nothing is running", got)
	}
}

func TestRankOrdering(t *testing.T) {
	// root unblocks two transitive dependents, helper unblocks none.
	g := compile(t, singlePhase(
		graph.TaskSpec{ID: "root", Subject: "root", Files: []string{"root.go"}},
		graph.TaskSpec{ID: "mid", Subject: "mid", DependsOn: []string{"root"}},
		graph.TaskSpec{ID: "leaf", Subject: "leaf", DependsOn: []string{"mid"}},
		graph.TaskSpec{ID: "zz-low", Subject: "low", Complexity: "low"},
		graph.TaskSpec{ID: "aa-high", Subject: "high", Complexity: "high"},
	))

	candidates := Unblocked(g)
	Rank(g, candidates)
	got := ids(candidates)

	// root first (unblock count 2), then zz-low before aa-high (complexity
	// beats ID order), aa-high last.
	want := []string{"root", "zz-low", "aa-high"}
	if len(got) != len(want) {
		t.Fatalf("ranked = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ranked = %v, want %v", got, want)
		}
	}
}

func TestNextBatchFileDisjointness(t *testing.T) {
	g := compile(t, singlePhase(
		graph.TaskSpec{ID: "d", Subject: "d", Files: []string{"shared.txt"}},
		graph.TaskSpec{ID: "e", Subject: "e", Files: []string{"shared.txt"}},
		graph.TaskSpec{ID: "f", Subject: "f", Files: []string{"other.txt"}},
	))

	batch := ids(NextBatch(g, 8))
	if len(batch) != 2 {
		t.Fatalf("batch = %v, want exactly one of d/e plus f", batch)
	}
	if (batch[0] == "d" && batch[1] == "e") || (batch[0] == "e" && batch[1] == "d") {
		t.Fatalf("batch %v admitted both tasks touching shared.txt", batch)
	}
}

func TestNextBatchConcurrencyCap(t *testing.T) {
	g := compile(t, singlePhase(
		graph.TaskSpec{ID: "a", Subject: "a", Files: []string{"a.go"}},
		graph.TaskSpec{ID: "b", Subject: "b", Files: []string{"b.go"}},
		graph.TaskSpec{ID: "c", Subject: "c", Files: []string{"c.go"}},
	))

	if batch := NextBatch(g, 2); len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(batch))
	}

	// A running task consumes a slot.
	mustRun(t, g, "a")
	if batch := NextBatch(g, 2); len(batch) != 1 {
		t.Fatalf("batch size with one slot busy = %d, want 1", len(NextBatch(g, 2)))
	}
}

func TestNextBatchPhaseBarrier(t *testing.T) {
	g := compile(t, &graph.PlanDocument{
		Version: 1,
		Name:    "phased",
		Phases: []graph.PhaseSpec{
			{ID: "p1", Tasks: []graph.TaskSpec{
				{ID: "p1a", Subject: "p1a", Files: []string{"a.go"}},
				{ID: "p1b", Subject: "p1b", Files: []string{"b.go"}},
			}},
			{ID: "p2", Tasks: []graph.TaskSpec{
				{ID: "p2a", Subject: "p2a", Files: []string{"c.go"}},
			}},
		},
	})

	batch := ids(NextBatch(g, 8))
	for _, id := range batch {
		if id == "p2a" {
			t.Fatal("phase-2 task admitted before phase-1 is terminal")
		}
	}

	mustRun(t, g, "p1a")
	if err := g.MarkComplete("p1a"); err != nil {
		t.Fatal(err)
	}
	// p1b errored and is awaiting retry: still not terminal, barrier holds.
	mustRun(t, g, "p1b")
	if err := g.MarkError("p1b", "failed"); err != nil {
		t.Fatal(err)
	}
	if err := g.ReturnToPending("p1b"); err != nil {
		t.Fatal(err)
	}
	for _, id := range ids(NextBatch(g, 8)) {
		if id == "p2a" {
			t.Fatal("phase-2 task admitted while a phase-1 retry is outstanding")
		}
	}

	mustRun(t, g, "p1b")
	if err := g.MarkComplete("p1b"); err != nil {
		t.Fatal(err)
	}
	batch = ids(NextBatch(g, 8))
	if len(batch) != 1 || batch[0] != "p2a" {
		t.Fatalf("batch = %v, want [p2a] after phase-1 completes", batch)
	}

	// Blocked also counts as terminal for the barrier.
	g2 := compile(t, &graph.PlanDocument{
		Version: 1,
		Name:    "phased2",
		Phases: []graph.PhaseSpec{
			{ID: "p1", Tasks: []graph.TaskSpec{{ID: "x", Subject: "x"}}},
			{ID: "p2", Tasks: []graph.TaskSpec{{ID: "y", Subject: "y"}}},
		},
	})
	if err := g2.MarkBlocked("x", "exhausted"); err != nil {
		t.Fatal(err)
	}
	batch = ids(NextBatch(g2, 8))
	if len(batch) != 1 || batch[0] != "y" {
		t.Fatalf("batch = %v, want [y] once phase-1 is blocked-terminal", batch)
	}
}

func mustRun(t *testing.T, g *graph.Graph, id string) {
	t.Helper()
	if err := g.MarkRunning(id, "test"); err != nil {
		t.Fatalf("MarkRunning(%s): %v", id, err)
	}
}
