package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration. Precedence, highest first: project
// config, global config, defaults. Missing files are not errors; malformed
// JSON is.
func Load(globalPath, projectPath string) (*EngineConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads from the conventional paths:
// ~/.taskengine/config.json then .taskengine/config.json.
func LoadDefault() (*EngineConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	return Load(
		filepath.Join(homeDir, ".taskengine", "config.json"),
		filepath.Join(".taskengine", "config.json"),
	)
}

// Overlay merges one more config file on top of an already loaded
// configuration, for ad-hoc policy files passed on the command line.
// Unlike Load, a missing file is an error here: the caller named it
// explicitly.
func Overlay(cfg *EngineConfig, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("policy file: %w", err)
	}
	if err := mergeFile(cfg, path); err != nil {
		return err
	}
	return cfg.check()
}

// mergeFile overlays one JSON config file onto base. Scalar sections replace
// wholesale; the backends map merges per key.
func mergeFile(base *EngineConfig, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded EngineConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.ProjectDir != "" {
		base.ProjectDir = loaded.ProjectDir
	}
	if loaded.WorkspaceDir != "" {
		base.WorkspaceDir = loaded.WorkspaceDir
	}
	if loaded.LogDir != "" {
		base.LogDir = loaded.LogDir
	}
	if loaded.LogLevel != "" {
		base.LogLevel = loaded.LogLevel
	}
	for name, bc := range loaded.Backends {
		base.Backends[name] = bc
	}

	if loaded.Tiers.Fast != "" {
		base.Tiers.Fast = loaded.Tiers.Fast
	}
	if len(loaded.Tiers.Pair) > 0 {
		base.Tiers.Pair = loaded.Tiers.Pair
	}
	if loaded.Tiers.Deep != "" {
		base.Tiers.Deep = loaded.Tiers.Deep
	}
	if len(loaded.Tiers.Council) > 0 {
		base.Tiers.Council = loaded.Tiers.Council
	}
	if loaded.Tiers.Synthesizer != "" {
		base.Tiers.Synthesizer = loaded.Tiers.Synthesizer
	}
	if loaded.Tiers.AdoptThreshold != 0 {
		base.Tiers.AdoptThreshold = loaded.Tiers.AdoptThreshold
	}
	if loaded.Tiers.SkipThreshold != 0 {
		base.Tiers.SkipThreshold = loaded.Tiers.SkipThreshold
	}

	if loaded.Scheduler.MaxParallel != 0 {
		base.Scheduler.MaxParallel = loaded.Scheduler.MaxParallel
	}
	if loaded.Scheduler.TickInterval != 0 {
		base.Scheduler.TickInterval = loaded.Scheduler.TickInterval
	}
	if loaded.Scheduler.StallThreshold != 0 {
		base.Scheduler.StallThreshold = loaded.Scheduler.StallThreshold
	}
	if loaded.Scheduler.MonitorInterval != 0 {
		base.Scheduler.MonitorInterval = loaded.Scheduler.MonitorInterval
	}
	for k, v := range loaded.Scheduler.Timeouts {
		base.Scheduler.Timeouts[k] = v
	}

	return nil
}

// check rejects configurations that reference backends that do not exist.
func (c *EngineConfig) check() error {
	missing := func(name string) bool {
		_, ok := c.Backends[name]
		return !ok
	}

	refs := []string{c.Tiers.Fast, c.Tiers.Deep, c.Tiers.Synthesizer}
	refs = append(refs, c.Tiers.Pair...)
	refs = append(refs, c.Tiers.Council...)
	for _, name := range refs {
		if name != "" && missing(name) {
			return fmt.Errorf("tier config references unknown backend %q", name)
		}
	}
	if c.Tiers.Fast == "" || c.Tiers.Deep == "" || c.Tiers.Synthesizer == "" {
		return fmt.Errorf("tier config must assign fast, deep, and synthesizer backends")
	}
	if len(c.Tiers.Pair) != 2 {
		return fmt.Errorf("tier config must assign exactly two pair backends, got %d", len(c.Tiers.Pair))
	}
	if len(c.Tiers.Council) == 0 {
		return fmt.Errorf("tier config must assign at least one council backend")
	}
	return nil
}
