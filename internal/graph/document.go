package graph

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// PlanDocument is the structured input document: ordered phases, each with
// ordered tasks. It is the YAML wire form; Compile turns it into a Graph.
type PlanDocument struct {
	Version int         `yaml:"version"`
	Name    string      `yaml:"name" validate:"required"`
	Phases  []PhaseSpec `yaml:"phases" validate:"required,min=1,dive"`
}

// PhaseSpec is one phase entry of the plan document.
type PhaseSpec struct {
	ID    string     `yaml:"id" validate:"required"`
	Name  string     `yaml:"name"`
	Tasks []TaskSpec `yaml:"tasks" validate:"required,min=1,dive"`
}

// TaskSpec is one task entry of the plan document.
type TaskSpec struct {
	ID          string   `yaml:"id" validate:"required"`
	Subject     string   `yaml:"subject" validate:"required"`
	Description string   `yaml:"description"`
	Files       []string `yaml:"files" validate:"dive,required"`
	DependsOn   []string `yaml:"depends_on"`
	Tags        []string `yaml:"tags"`
	Verify      []string `yaml:"verify"`
	Complexity  string   `yaml:"complexity" validate:"omitempty,oneof=low medium high"`
	MaxAttempts int      `yaml:"max_attempts" validate:"omitempty,min=1"`
}

var validate = validator.New()

// Compile validates the document and builds an in-memory Graph with every
// task in status pending. It returns a single *ValidationError enumerating
// every problem found in one pass.
func (d *PlanDocument) Compile() (*Graph, error) {
	verr := &ValidationError{}

	if err := validate.Struct(d); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				verr.Addf("field %s failed rule %q", fe.StructNamespace(), fe.Tag())
			}
		} else {
			verr.Addf("document validation: %v", err)
		}
	}

	g := NewGraph()
	now := time.Now()

	for _, ps := range d.Phases {
		phase := &Phase{ID: ps.ID, Name: ps.Name}
		for _, ts := range ps.Tasks {
			maxAttempts := ts.MaxAttempts
			if maxAttempts == 0 {
				maxAttempts = DefaultMaxAttempts
			}
			complexity := Complexity(ts.Complexity)
			if complexity == "" {
				complexity = ComplexityMedium
			}
			task := &Task{
				ID:          ts.ID,
				Subject:     ts.Subject,
				Description: ts.Description,
				Phase:       ps.ID,
				Files:       append([]string(nil), ts.Files...),
				DependsOn:   append([]string(nil), ts.DependsOn...),
				Tags:        append([]string(nil), ts.Tags...),
				Verify:      append([]string(nil), ts.Verify...),
				Status:      StatusPending,
				MaxAttempts: maxAttempts,
				Complexity:  complexity,
				CreatedAt:   now,
			}
			if err := g.addTask(task); err != nil {
				verr.Addf("%v", err)
			}
			phase.TaskIDs = append(phase.TaskIDs, ts.ID)
		}
		if err := g.addPhase(phase); err != nil {
			verr.Addf("%v", err)
		}
	}

	g.checkReferences(verr)
	g.checkCycles(verr)

	if verr.HasProblems() {
		return nil, verr
	}
	return g, nil
}
