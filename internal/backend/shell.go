package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/taskengine/internal/graph"
)

// defaultShellConfidence is used when a shell backend's configuration does
// not set a score. Exit codes carry no gradation, so the default sits in the
// middle of the scale.
const defaultShellConfidence = 50

// ShellBackend runs a plain command with exit-code semantics: exit 0 is
// success, anything else is failure. Useful for scripted fixers and
// human-in-the-loop wrappers that cannot speak the JSON outcome protocol.
type ShellBackend struct {
	name string
	cfg  Config
	pm   *ProcessManager
}

// NewShellBackend creates a shell adapter for the given configuration.
func NewShellBackend(name string, cfg Config, pm *ProcessManager) *ShellBackend {
	return &ShellBackend{name: name, cfg: cfg, pm: pm}
}

// Name identifies this backend in attempt records.
func (b *ShellBackend) Name() string { return b.name }

// Execute runs the configured command. The prompt travels on stdin or as the
// final argument, same as the CLI adapter.
func (b *ShellBackend) Execute(ctx context.Context, task *graph.Task, ec ExecContext) (Outcome, error) {
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

	confidence := b.cfg.Confidence
	if confidence == 0 {
		confidence = defaultShellConfidence
	}

	_, stderr, runErr := streamCommand(cmd, b.pm, logWriter(sink), ec.Heartbeat)
	if runErr != nil {
		if ctx.Err() != nil {
			return Outcome{LogRef: ec.LogPath}, ctx.Err()
		}
		// Nonzero exit is a reported failure, not a backend error.
		return Outcome{
			Result:     graph.ResultFailure,
			Confidence: confidence,
			Rationale:  fmt.Sprintf("%s exited nonzero: %v (stderr: %s)", b.cfg.Command, runErr, truncate(string(stderr), 512)),
			LogRef:     ec.LogPath,
		}, nil
	}

	return Outcome{
		Result:     graph.ResultSuccess,
		Confidence: confidence,
		Rationale:  fmt.Sprintf("%s exited 0", b.cfg.Command),
		LogRef:     ec.LogPath,
	}, nil
}
