package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// VerificationError reports the first check command that failed. A backend
// claiming success does not complete a task until every check passes; this
// error carries what the checks actually said.
type VerificationError struct {
	Command string
	Output  string
	Err     error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification %q failed: %v", e.Command, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// Verify runs each check command in order inside dir, stopping at the first
// failure. It returns the combined output of every command that ran, and a
// *VerificationError when a command exits nonzero. Commands run through
// sh -c so plan authors can write pipelines. progress, if non-nil, is invoked
// before each command so checks count against the stall clock like any other
// execution output.
func Verify(ctx context.Context, commands []string, dir string, progress func(line string)) (string, error) {
	var transcript bytes.Buffer

	for _, command := range commands {
		if progress != nil {
			progress("$ " + command)
		}
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = dir

		out, err := cmd.CombinedOutput()
		fmt.Fprintf(&transcript, "$ %s\n%s", command, out)
		if len(out) > 0 && out[len(out)-1] != '\n' {
			transcript.WriteByte('\n')
		}

		if err != nil {
			if ctx.Err() != nil {
				return transcript.String(), ctx.Err()
			}
			return transcript.String(), &VerificationError{
				Command: command,
				Output:  strings.TrimSpace(string(out)),
				Err:     err,
			}
		}
	}

	return transcript.String(), nil
}
