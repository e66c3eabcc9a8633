package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadMissingFilesUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nope.json"), filepath.Join(dir, "also-nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxParallel != 4 {
		t.Errorf("MaxParallel = %d, want 4", cfg.Scheduler.MaxParallel)
	}
	if cfg.Tiers.AdoptThreshold != 70 || cfg.Tiers.SkipThreshold != 60 {
		t.Errorf("thresholds = %d/%d, want 70/60", cfg.Tiers.AdoptThreshold, cfg.Tiers.SkipThreshold)
	}
	if cfg.TimeoutFor("high") != 45*time.Minute {
		t.Errorf("TimeoutFor(high) = %v", cfg.TimeoutFor("high"))
	}
}

func TestProjectOverridesGlobal(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global.json", `{
		"log_level": "DEBUG",
		"scheduler": {"max_parallel": 8}
	}`)
	project := writeConfig(t, dir, "project.json", `{
		"scheduler": {"max_parallel": 2, "stall_threshold": "5m"}
	}`)

	cfg, err := Load(global, project)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxParallel != 2 {
		t.Errorf("MaxParallel = %d, want project override 2", cfg.Scheduler.MaxParallel)
	}
	if cfg.LogLevel != "DEBUG" {
		t.Errorf("LogLevel = %q, want global DEBUG", cfg.LogLevel)
	}
	if cfg.Scheduler.StallThreshold.Std() != 5*time.Minute {
		t.Errorf("StallThreshold = %v, want 5m", cfg.Scheduler.StallThreshold.Std())
	}
	if cfg.Scheduler.TickInterval.Std() != 2*time.Second {
		t.Errorf("TickInterval = %v, want default 2s", cfg.Scheduler.TickInterval.Std())
	}
}

func TestBackendsMergePerKey(t *testing.T) {
	dir := t.TempDir()
	project := writeConfig(t, dir, "project.json", `{
		"backends": {
			"fast": {"type": "cli", "command": "myagent", "args": ["--quick"]},
			"local": {"type": "shell", "command": "make", "args": ["check"]}
		}
	}`)

	cfg, err := Load("", project)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backends["fast"].Command != "myagent" {
		t.Errorf("fast command = %q", cfg.Backends["fast"].Command)
	}
	if cfg.Backends["deep"].Command != "agent" {
		t.Errorf("deep backend should survive the merge, got %q", cfg.Backends["deep"].Command)
	}
	if cfg.Backends["local"].Type != "shell" {
		t.Errorf("local backend missing after merge")
	}
}

func TestMalformedConfigIsAnError(t *testing.T) {
	dir := t.TempDir()
	bad := writeConfig(t, dir, "bad.json", `{"scheduler": {`)
	if _, err := Load("", bad); err == nil {
		t.Fatal("malformed JSON should fail loudly, not fall back to defaults")
	}
}

func TestUnknownTierBackendRejected(t *testing.T) {
	dir := t.TempDir()
	project := writeConfig(t, dir, "project.json", `{
		"tiers": {"fast": "nonexistent"}
	}`)
	if _, err := Load("", project); err == nil {
		t.Fatal("tier referencing an unconfigured backend should be rejected")
	}
}

func TestDurationForms(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{`"20m"`, 20 * time.Minute},
		{`"1h30m"`, 90 * time.Minute},
		{`120`, 2 * time.Minute},
		{`1.5`, 1500 * time.Millisecond},
	}
	for _, tc := range cases {
		var d Duration
		if err := json.Unmarshal([]byte(tc.in), &d); err != nil {
			t.Errorf("unmarshal %s: %v", tc.in, err)
			continue
		}
		if d.Std() != tc.want {
			t.Errorf("unmarshal %s = %v, want %v", tc.in, d.Std(), tc.want)
		}
	}

	var d Duration
	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Error("non-duration string should fail")
	}
}
