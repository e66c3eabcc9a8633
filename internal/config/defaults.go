package config

import (
	"time"

	"github.com/aristath/taskengine/internal/backend"
)

// DefaultConfig returns the built-in configuration. Backend commands are
// placeholders wired to generic agent CLIs; real deployments override them
// in the global or project config file.
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		ProjectDir:   ".",
		WorkspaceDir: ".taskengine/workspaces",
		LogDir:       ".taskengine/logs",
		LogLevel:     "INFO",
		Backends: map[string]backend.Config{
			"fast": {
				Type:    "cli",
				Command: "agent",
				Args:    []string{"--mode", "fast"},
			},
			"steady": {
				Type:    "cli",
				Command: "agent",
				Args:    []string{"--mode", "steady"},
			},
			"deep": {
				Type:    "cli",
				Command: "agent",
				Args:    []string{"--mode", "deep"},
			},
		},
		Tiers: TierConfig{
			Fast:           "fast",
			Pair:           []string{"fast", "steady"},
			Deep:           "deep",
			Council:        []string{"fast", "steady", "deep"},
			Synthesizer:    "deep",
			AdoptThreshold: 70,
			SkipThreshold:  60,
		},
		Scheduler: SchedulerConfig{
			MaxParallel:     4,
			TickInterval:    Duration(2 * time.Second),
			StallThreshold:  Duration(20 * time.Minute),
			MonitorInterval: Duration(30 * time.Second),
			Timeouts: map[string]Duration{
				"low":    Duration(10 * time.Minute),
				"medium": Duration(20 * time.Minute),
				"high":   Duration(45 * time.Minute),
			},
		},
	}
}
