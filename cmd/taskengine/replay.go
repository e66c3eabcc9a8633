package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/aristath/taskengine/internal/auditlog"
)

func newReplayCmd() *cobra.Command {
	var auditPath string
	var taskID string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild run state by folding the audit log from empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log, err := auditlog.NewSQLiteLog(ctx, auditPath)
			if err != nil {
				return err
			}
			defer log.Close()

			if taskID != "" {
				return printHistory(cmd, log, taskID)
			}

			snap, err := auditlog.Replay(ctx, log)
			if err != nil {
				return err
			}

			ids := make([]string, 0, len(snap.Tasks))
			for id := range snap.Tasks {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			for _, id := range ids {
				st := snap.Tasks[id]
				fmt.Fprintf(cmd.OutOrStdout(), "[%-8s] %-24s attempts=%d confidences=%v\n",
					st.Status, id, st.Attempt, st.Confidences)
				if st.LastError != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "             %s\n", st.LastError)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&auditPath, "audit-db", ".taskengine/audit.db", "audit log database path")
	cmd.Flags().StringVar(&taskID, "task", "", "print the full event history for one task")
	return cmd
}

// printHistory dumps every transition and attempt for one task in log order.
func printHistory(cmd *cobra.Command, log auditlog.Log, taskID string) error {
	ctx := cmd.Context()

	transitions, err := log.Transitions(ctx)
	if err != nil {
		return err
	}
	for _, tr := range transitions {
		if tr.TaskID != taskID {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s -> %s  (%s)", tr.At.Format("2006-01-02 15:04:05"), tr.From, tr.To, tr.Actor)
		if tr.Reason != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s", tr.Reason)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}

	attempts, err := log.Attempts(ctx, taskID)
	if err != nil {
		return err
	}
	for _, a := range attempts {
		fmt.Fprintf(cmd.OutOrStdout(), "attempt %d: tier %d, backend %s, %s, confidence %d\n",
			a.Number, a.Tier, a.Backend, a.Result, a.Confidence)
		if a.Rationale != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  rationale: %s\n", a.Rationale)
		}
		if a.LogRef != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  log: %s\n", a.LogRef)
		}
	}
	return nil
}
