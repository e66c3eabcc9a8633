package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aristath/taskengine/internal/graph"
)

// CLIBackend runs an agent CLI as a subprocess and speaks the outcome
// protocol: the last non-empty stdout line must be a JSON object
//
//	{"result":"success","confidence":87,"rationale":"...","artifacts":[...]}
//
// Anything an adapter-compatible agent prints before that line is treated as
// progress output and fed to the heartbeat.
type CLIBackend struct {
	name string
	cfg  Config
	pm   *ProcessManager
}

// cliOutcome is the wire form of the outcome protocol.
type cliOutcome struct {
	Result     string   `json:"result"`
	Confidence *int     `json:"confidence"`
	Rationale  string   `json:"rationale"`
	Artifacts  []string `json:"artifacts"`
}

// NewCLIBackend creates a CLI adapter for the given configuration.
func NewCLIBackend(name string, cfg Config, pm *ProcessManager) *CLIBackend {
	return &CLIBackend{name: name, cfg: cfg, pm: pm}
}

// Name identifies this backend in attempt records.
func (b *CLIBackend) Name() string { return b.name }

// Execute runs the configured command against the task and parses the
// trailing outcome line. The subprocess gets the prompt either as the final
// argument or on stdin, per configuration.
func (b *CLIBackend) Execute(ctx context.Context, task *graph.Task, ec ExecContext) (Outcome, error) {
	args := append([]string(nil), b.cfg.Args...)
	if !b.cfg.UseStdin {
		args = append(args, ec.Prompt)
	}

	cmd := newCommand(ctx, b.cfg.Command, args...)
	cmd.Dir = ec.WorkDir
	if b.cfg.UseStdin {
		cmd.Stdin = strings.NewReader(ec.Prompt)
	}

	sink, err := openLog(ec.LogPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if sink != nil {
		defer sink.Close()
	}

	stdout, stderr, runErr := streamCommand(cmd, b.pm, logWriter(sink), ec.Heartbeat)
	if runErr != nil {
		if ctx.Err() != nil {
			return Outcome{LogRef: ec.LogPath}, ctx.Err()
		}
		return Outcome{LogRef: ec.LogPath}, fmt.Errorf("%w: %s: %v (stderr: %s)",
			ErrBackend, b.cfg.Command, runErr, truncate(string(stderr), 512))
	}

	outcome, err := parseOutcome(stdout)
	if err != nil {
		return Outcome{LogRef: ec.LogPath}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	outcome.LogRef = ec.LogPath
	return outcome, nil
}

// parseOutcome extracts the outcome object from the last non-empty stdout
// line. Confidence is mandatory; a missing score is a protocol violation.
func parseOutcome(stdout []byte) (Outcome, error) {
	lines := strings.Split(strings.TrimRight(string(stdout), "\n"), "\n")
	var last string
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			last = strings.TrimSpace(lines[i])
			break
		}
	}
	if last == "" {
		return Outcome{}, fmt.Errorf("no output to parse outcome from")
	}

	var wire cliOutcome
	if err := json.Unmarshal([]byte(last), &wire); err != nil {
		return Outcome{}, fmt.Errorf("parsing outcome line %q: %v", truncate(last, 200), err)
	}

	var result graph.OutcomeResult
	switch wire.Result {
	case "success":
		result = graph.ResultSuccess
	case "failure":
		result = graph.ResultFailure
	case "blocked":
		result = graph.ResultBlocked
	default:
		return Outcome{}, fmt.Errorf("outcome result %q is not success/failure/blocked", wire.Result)
	}
	if wire.Confidence == nil {
		return Outcome{}, fmt.Errorf("outcome is missing the mandatory confidence score")
	}
	if *wire.Confidence < 0 || *wire.Confidence > 100 {
		return Outcome{}, fmt.Errorf("confidence %d out of range 0-100", *wire.Confidence)
	}

	return Outcome{
		Result:     result,
		Confidence: *wire.Confidence,
		Rationale:  wire.Rationale,
		Artifacts:  wire.Artifacts,
	}, nil
}

func openLog(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// logWriter avoids handing a typed-nil *os.File to an io.Writer interface.
func logWriter(f *os.File) io.Writer {
	if f == nil {
		return nil
	}
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
