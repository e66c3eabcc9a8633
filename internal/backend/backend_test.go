package backend

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aristath/taskengine/internal/graph"
)

func TestNewUnknownType(t *testing.T) {
	_, err := New("x", Config{Type: "carrier-pigeon"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown backend type")
	}
}

func TestRegistryLookup(t *testing.T) {
	reg, err := NewRegistry(map[string]Config{
		"fast": {Type: "cli", Command: "agent"},
		"fix":  {Type: "shell", Command: "sh"},
	}, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	b, err := reg.Get("fast")
	if err != nil {
		t.Fatalf("Get(fast): %v", err)
	}
	if b.Name() != "fast" {
		t.Errorf("Name() = %q, want fast", b.Name())
	}
	if _, err := reg.Get("missing"); err == nil {
		t.Error("Get(missing) should fail")
	}
}

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		name       string
		stdout     string
		wantErr    bool
		wantResult graph.OutcomeResult
		wantConf   int
	}{
		{
			name:       "success with leading progress lines",
			stdout:     "working...\nstill working\n{\"result\":\"success\",\"confidence\":87,\"rationale\":\"done\"}\n",
			wantResult: graph.ResultSuccess,
			wantConf:   87,
		},
		{
			name:       "failure outcome",
			stdout:     "{\"result\":\"failure\",\"confidence\":30,\"rationale\":\"tests red\"}",
			wantResult: graph.ResultFailure,
			wantConf:   30,
		},
		{
			name:       "blocked outcome",
			stdout:     "{\"result\":\"blocked\",\"confidence\":10}",
			wantResult: graph.ResultBlocked,
			wantConf:   10,
		},
		{
			name:    "missing confidence is a protocol violation",
			stdout:  "{\"result\":\"success\"}",
			wantErr: true,
		},
		{
			name:    "confidence out of range",
			stdout:  "{\"result\":\"success\",\"confidence\":150}",
			wantErr: true,
		},
		{
			name:    "unknown result value",
			stdout:  "{\"result\":\"maybe\",\"confidence\":50}",
			wantErr: true,
		},
		{
			name:    "last line is not JSON",
			stdout:  "all done!",
			wantErr: true,
		},
		{
			name:    "empty output",
			stdout:  "\n\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := parseOutcome([]byte(tt.stdout))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseOutcome: %v", err)
			}
			if outcome.Result != tt.wantResult {
				t.Errorf("Result = %s, want %s", outcome.Result, tt.wantResult)
			}
			if outcome.Confidence != tt.wantConf {
				t.Errorf("Confidence = %d, want %d", outcome.Confidence, tt.wantConf)
			}
		})
	}
}

func TestCLIBackendExecute(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "task.log")

	b := NewCLIBackend("fast", Config{
		Type:    "cli",
		Command: "sh",
		Args:    []string{"-c", `echo "step 1"; echo '{"result":"success","confidence":75,"rationale":"ok"}'`, "sh"},
	}, NewProcessManager())

	var beats []string
	outcome, err := b.Execute(context.Background(), &graph.Task{ID: "t1"}, ExecContext{
		WorkDir:   dir,
		Prompt:    "do the thing",
		LogPath:   logPath,
		Heartbeat: func(line string) { beats = append(beats, line) },
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Result != graph.ResultSuccess || outcome.Confidence != 75 {
		t.Errorf("outcome = %+v", outcome)
	}
	if outcome.LogRef != logPath {
		t.Errorf("LogRef = %q, want %q", outcome.LogRef, logPath)
	}
	if len(beats) < 2 {
		t.Errorf("heartbeats = %v, want one per output line", beats)
	}
}

func TestShellBackendExitCodes(t *testing.T) {
	pm := NewProcessManager()
	dir := t.TempDir()

	ok := NewShellBackend("fix", Config{Type: "shell", Command: "true", Confidence: 60}, pm)
	outcome, err := ok.Execute(context.Background(), &graph.Task{ID: "t"}, ExecContext{WorkDir: dir, Prompt: "p"})
	if err != nil {
		t.Fatalf("Execute(true): %v", err)
	}
	if outcome.Result != graph.ResultSuccess || outcome.Confidence != 60 {
		t.Errorf("outcome = %+v, want success/60", outcome)
	}

	bad := NewShellBackend("fix", Config{Type: "shell", Command: "false"}, pm)
	outcome, err = bad.Execute(context.Background(), &graph.Task{ID: "t"}, ExecContext{WorkDir: dir, Prompt: "p"})
	if err != nil {
		t.Fatalf("Execute(false) should report failure, not error: %v", err)
	}
	if outcome.Result != graph.ResultFailure {
		t.Errorf("Result = %s, want failure", outcome.Result)
	}
	if outcome.Confidence != defaultShellConfidence {
		t.Errorf("Confidence = %d, want default %d", outcome.Confidence, defaultShellConfidence)
	}
	if !strings.Contains(outcome.Rationale, "exited nonzero") {
		t.Errorf("Rationale = %q", outcome.Rationale)
	}
}

func TestCLIBackendCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewCLIBackend("slow", Config{
		Type:    "cli",
		Command: "sh",
		Args:    []string{"-c", "sleep 30"},
	}, NewProcessManager())

	done := make(chan error, 1)
	go func() {
		_, err := b.Execute(ctx, &graph.Task{ID: "t"}, ExecContext{WorkDir: t.TempDir(), Prompt: "p"})
		done <- err
	}()

	cancel()
	err := <-done
	if err == nil {
		t.Fatal("cancelled execution should return an error")
	}
	if ctx.Err() == nil {
		t.Fatal("context should be cancelled")
	}
}
