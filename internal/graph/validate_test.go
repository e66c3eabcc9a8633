package graph

import (
	"errors"
	"strings"
	"testing"
)

func docWithTasks(tasks ...TaskSpec) *PlanDocument {
	return &PlanDocument{
		Version: 1,
		Name:    "test-plan",
		Phases: []PhaseSpec{
			{ID: "phase-1", Name: "Phase 1", Tasks: tasks},
		},
	}
}

func TestCompileValidation(t *testing.T) {
	tests := []struct {
		name         string
		doc          *PlanDocument
		wantErr      bool
		wantProblems []string
	}{
		{
			name: "valid linear chain",
			doc: docWithTasks(
				TaskSpec{ID: "a", Subject: "task a"},
				TaskSpec{ID: "b", Subject: "task b", DependsOn: []string{"a"}},
				TaskSpec{ID: "c", Subject: "task c", DependsOn: []string{"b"}},
			),
			wantErr: false,
		},
		{
			name: "cycle names every participant",
			doc: docWithTasks(
				TaskSpec{ID: "a", Subject: "task a", DependsOn: []string{"c"}},
				TaskSpec{ID: "b", Subject: "task b", DependsOn: []string{"a"}},
				TaskSpec{ID: "c", Subject: "task c", DependsOn: []string{"b"}},
			),
			wantErr:      true,
			wantProblems: []string{"cycle", "a", "b", "c"},
		},
		{
			name: "cycle does not name tasks outside it",
			doc: docWithTasks(
				TaskSpec{ID: "a", Subject: "task a", DependsOn: []string{"b"}},
				TaskSpec{ID: "b", Subject: "task b", DependsOn: []string{"a"}},
				TaskSpec{ID: "standalone", Subject: "fine"},
			),
			wantErr:      true,
			wantProblems: []string{"a, b"},
		},
		{
			name: "dangling dependency",
			doc: docWithTasks(
				TaskSpec{ID: "a", Subject: "task a", DependsOn: []string{"ghost"}},
			),
			wantErr:      true,
			wantProblems: []string{`depends on non-existent task "ghost"`},
		},
		{
			name: "duplicate task IDs",
			doc: docWithTasks(
				TaskSpec{ID: "a", Subject: "first"},
				TaskSpec{ID: "a", Subject: "second"},
			),
			wantErr:      true,
			wantProblems: []string{`duplicate task ID "a"`},
		},
		{
			name: "missing required fields",
			doc: docWithTasks(
				TaskSpec{ID: "", Subject: ""},
			),
			wantErr:      true,
			wantProblems: []string{"required"},
		},
		{
			name: "all problems reported in one pass",
			doc: docWithTasks(
				TaskSpec{ID: "a", Subject: "task a", DependsOn: []string{"a"}},
				TaskSpec{ID: "b", Subject: "task b", DependsOn: []string{"ghost"}},
				TaskSpec{ID: "b", Subject: "dup"},
			),
			wantErr: true,
			wantProblems: []string{
				"cycle",
				`depends on non-existent task "ghost"`,
				`duplicate task ID "b"`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := tt.doc.Compile()
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Compile() unexpected error: %v", err)
				}
				if g == nil {
					t.Fatal("Compile() returned nil graph without error")
				}
				return
			}

			if err == nil {
				t.Fatal("Compile() expected error, got nil")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Compile() error is %T, want *ValidationError", err)
			}
			for _, want := range tt.wantProblems {
				if !strings.Contains(verr.Error(), want) {
					t.Errorf("ValidationError missing %q in:\n%s", want, verr.Error())
				}
			}
		})
	}
}

func TestCompileDefaults(t *testing.T) {
	doc := docWithTasks(TaskSpec{ID: "a", Subject: "task a"})
	g, err := doc.Compile()
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	task, ok := g.Task("a")
	if !ok {
		t.Fatal("task a not found")
	}
	if task.Status != StatusPending {
		t.Errorf("Status = %s, want pending", task.Status)
	}
	if task.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", task.MaxAttempts, DefaultMaxAttempts)
	}
	if task.Complexity != ComplexityMedium {
		t.Errorf("Complexity = %s, want medium", task.Complexity)
	}
}
