package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/taskengine/internal/graph"
)

func newValidateCmd() *cobra.Command {
	var planPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a plan document without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := graph.Load(planPath)
			if err != nil {
				var verr *graph.ValidationError
				if errors.As(err, &verr) {
					fmt.Fprintf(cmd.OutOrStdout(), "Plan %s is invalid:\n", planPath)
					for _, p := range verr.Problems {
						fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", p)
					}
				}
				return err
			}

			tasks := g.Tasks()
			fmt.Fprintf(cmd.OutOrStdout(), "Plan %s is valid: %d phases, %d tasks\n",
				planPath, len(g.Phases()), len(tasks))
			return nil
		},
	}

	cmd.Flags().StringVar(&planPath, "plan", "plan.yaml", "path to the plan document")
	return cmd
}
