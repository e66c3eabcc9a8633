package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/taskengine/internal/backend"
)

// Duration wraps time.Duration so config files can say "20m" or "90s".
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string like \"20m\" or seconds: %s", string(data))
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalJSON writes the string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SchedulerConfig holds coordinator knobs.
type SchedulerConfig struct {
	MaxParallel     int                 `json:"max_parallel"`
	TickInterval    Duration            `json:"tick_interval"`
	StallThreshold  Duration            `json:"stall_threshold"`
	MonitorInterval Duration            `json:"monitor_interval"`
	Timeouts        map[string]Duration `json:"timeouts"` // keyed by complexity: low/medium/high
}

// TierConfig assigns configured backends to escalation tiers and holds the
// confidence thresholds.
type TierConfig struct {
	Fast        string   `json:"fast"`        // Tier 0: single fast backend
	Pair        []string `json:"pair"`        // Tier 1: two backends in parallel
	Deep        string   `json:"deep"`        // Tier 2 and 4: deep-reasoning backend
	Council     []string `json:"council"`     // Tier 3: full council
	Synthesizer string   `json:"synthesizer"` // Tier 3: selects and implements the best proposal

	AdoptThreshold int `json:"adopt_threshold"` // Minimum confidence to adopt a proposal (default 70)
	SkipThreshold  int `json:"skip_threshold"`  // Below this at tier 0/1, jump straight to deep analysis (default 60)
}

// EngineConfig is the top-level configuration.
type EngineConfig struct {
	ProjectDir   string                    `json:"project_dir"`
	WorkspaceDir string                    `json:"workspace_dir"`
	LogDir       string                    `json:"log_dir"`
	LogLevel     string                    `json:"log_level"`
	Backends     map[string]backend.Config `json:"backends"`
	Tiers        TierConfig                `json:"tiers"`
	Scheduler    SchedulerConfig           `json:"scheduler"`
}

// TimeoutFor returns the wall-clock execution budget for a complexity
// bucket, falling back to the medium budget.
func (c *EngineConfig) TimeoutFor(complexity string) time.Duration {
	if d, ok := c.Scheduler.Timeouts[complexity]; ok {
		return d.Std()
	}
	if d, ok := c.Scheduler.Timeouts["medium"]; ok {
		return d.Std()
	}
	return 20 * time.Minute
}
