package main

import (
	"github.com/spf13/cobra"

	"github.com/aristath/taskengine/internal/backend"
)

func newRootCmd(pm *backend.ProcessManager) *cobra.Command {
	root := &cobra.Command{
		Use:   "taskengine",
		Short: "Dependency-aware task orchestration with self-healing execution",
		Long: `taskengine runs a plan of interdependent tasks against pluggable
execution backends. Failing tasks climb a confidence-scored escalation
ladder before anything is given up on, stalled executions are detected and
retried, and every state change lands in an append-only audit log that can
rebuild the run from scratch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(pm),
		newValidateCmd(),
		newReplayCmd(),
	)
	return root
}
