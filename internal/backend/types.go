package backend

import (
	"errors"

	"github.com/aristath/taskengine/internal/graph"
)

// ErrBackend marks failures of the backend itself (spawn errors, protocol
// violations), as opposed to a backend that ran and reported failure.
var ErrBackend = errors.New("backend error")

// Outcome is what a backend reports after attempting a task. Confidence is
// mandatory: an outcome without a score cannot drive escalation decisions.
type Outcome struct {
	Result     graph.OutcomeResult
	Artifacts  []string
	LogRef     string // Path to the captured execution log
	Confidence int    // 0-100
	Rationale  string
}

// ExecContext carries per-execution collaboration points into a backend.
type ExecContext struct {
	// WorkDir is the workspace the backend must operate in. Verification
	// runs against the same directory afterwards.
	WorkDir string

	// Prompt is the full instruction for this attempt, including any
	// accumulated escalation context from prior attempts.
	Prompt string

	// LogPath is where the backend should mirror its raw output. Used as
	// the attempt's LogRef.
	LogPath string

	// Heartbeat is invoked for every output line the execution emits. The
	// heartbeat monitor infers stalls from the absence of these calls; a
	// backend that never calls it will be treated as stalled.
	Heartbeat func(line string)
}

// Config defines one configured backend.
type Config struct {
	Type       string   `json:"type"`                 // "cli" or "shell"
	Command    string   `json:"command"`              // Binary to invoke
	Args       []string `json:"args,omitempty"`       // Fixed arguments
	UseStdin   bool     `json:"use_stdin,omitempty"`  // Pass the prompt on stdin instead of as the final arg
	Confidence int      `json:"confidence,omitempty"` // Fixed score for shell backends (default 50)
}
