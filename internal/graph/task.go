package graph

import (
	"time"
)

// Status represents the current state of a task.
type Status string

const (
	StatusPending  Status = "pending"  // Waiting for dependencies or a batch slot
	StatusRunning  Status = "running"  // Currently executing on a backend
	StatusStuck    Status = "stuck"    // Stall inferred from missing progress signals
	StatusError    Status = "error"    // Last attempt failed; eligible for retry
	StatusComplete Status = "complete" // Finished and verified
	StatusBlocked  Status = "blocked"  // Escalation exhausted; needs a human
)

// IsTerminal reports whether the status is final for scheduling purposes.
// Stuck and error tasks return to pending, so only complete and blocked
// are terminal.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusBlocked
}

// Complexity buckets tasks for timeout derivation and scheduler tie-breaks.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// weight returns the ordering weight of a complexity bucket. Unknown values
// sort as medium.
func (c Complexity) weight() int {
	switch c {
	case ComplexityLow:
		return 0
	case ComplexityHigh:
		return 2
	default:
		return 1
	}
}

// Weight exposes the complexity ordering for the scheduler.
func (c Complexity) Weight() int { return c.weight() }

// DefaultMaxAttempts is the attempt ceiling applied when a task does not
// override it. At the ceiling the task becomes permanently blocked.
const DefaultMaxAttempts = 5

// Task is the smallest dispatchable unit of work.
type Task struct {
	ID          string
	Subject     string
	Description string
	Phase       string   // Phase ID this task belongs to
	Files       []string // Paths the task will touch; drives conflict detection
	DependsOn   []string // Task IDs that must reach terminal success first
	Tags        []string
	Verify      []string // Check commands; all must exit 0 for completion

	Status      Status
	Attempt     int
	MaxAttempts int
	Complexity  Complexity
	Backend     string // Backend assigned to the most recent attempt
	LastError   string

	CreatedAt    time.Time
	StartedAt    time.Time
	LastProgress time.Time
	CompletedAt  time.Time

	// Confidences holds the confidence score of every recorded attempt,
	// oldest first.
	Confidences []int
}

// OutcomeResult is a backend's self-reported classification of an execution.
type OutcomeResult string

const (
	ResultSuccess OutcomeResult = "success"
	ResultFailure OutcomeResult = "failure"
	ResultBlocked OutcomeResult = "blocked"
)

// Attempt is one immutable execution record for a task.
type Attempt struct {
	ID         string
	TaskID     string
	Number     int // 1-based attempt counter
	Backend    string
	Tier       int
	StartedAt  time.Time
	EndedAt    time.Time
	Result     OutcomeResult
	Confidence int
	Rationale  string
	LogRef     string // Pointer to captured output (workspace log path)
	VerifyOut  string // Captured stdout/stderr of the verification commands
}

// Phase is an ordered barrier grouping of tasks. Tasks of phase N+1 are never
// scheduled until every phase-N task reaches a terminal status.
type Phase struct {
	ID      string
	Name    string
	TaskIDs []string // Document order
}

// Clone returns a deep copy of the task so callers can read it without
// holding the graph lock.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Files = append([]string(nil), t.Files...)
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	cp.Tags = append([]string(nil), t.Tags...)
	cp.Verify = append([]string(nil), t.Verify...)
	cp.Confidences = append([]int(nil), t.Confidences...)
	return &cp
}
