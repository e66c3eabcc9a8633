package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/taskengine/internal/backend"
	"github.com/aristath/taskengine/internal/config"
	"github.com/aristath/taskengine/internal/engine"
	"github.com/aristath/taskengine/internal/logging"
)

// incompleteRunError signals that the run itself worked but left tasks
// blocked or unfinished; main turns it into exit code 1.
type incompleteRunError struct {
	blocked, pending int
}

func (e *incompleteRunError) Error() string {
	return fmt.Sprintf("run finished with %d blocked and %d unfinished tasks", e.blocked, e.pending)
}

func newRunCmd(pm *backend.ProcessManager) *cobra.Command {
	var (
		planPath      string
		parallel      int
		maxIterations int
		auditPath     string
		policyPath    string
		logLevel      string
		watch         bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a plan until every task is terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(policyPath)
			if err != nil {
				return err
			}
			if parallel > 0 {
				cfg.Scheduler.MaxParallel = parallel
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			log, err := logging.New(cfg.LogDir, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Close()

			eng, err := engine.New(engine.Options{
				Config:        cfg,
				PlanPath:      planPath,
				AuditPath:     auditPath,
				MaxIterations: maxIterations,
				WatchPlan:     watch,
				Logger:        log,
				Processes:     pm,
			})
			if err != nil {
				return err
			}
			defer eng.Close()

			summary, runErr := eng.Run(cmd.Context())
			fmt.Fprint(cmd.OutOrStdout(), summary.Render())
			if runErr != nil {
				return runErr
			}
			if !summary.AllComplete() {
				return &incompleteRunError{blocked: summary.Blocked, pending: summary.Pending}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&planPath, "plan", "plan.yaml", "path to the plan document")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "max concurrently running tasks (overrides config)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "stop after this many scheduling ticks (0 = unlimited)")
	cmd.Flags().StringVar(&auditPath, "audit-db", "", "audit log database path (default {project}/.taskengine/audit.db)")
	cmd.Flags().StringVar(&policyPath, "policy", "", "extra config file overlaid on top of the project config")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload the plan when it is edited externally")
	return cmd
}

// loadConfig merges defaults, global, project, and an optional policy file.
func loadConfig(policyPath string) (*config.EngineConfig, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	if policyPath != "" {
		if err := config.Overlay(cfg, policyPath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
