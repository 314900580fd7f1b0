package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(prev) })
	return dir
}

func TestLoadReplayDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := LoadReplay("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Out != "./data/events.jsonl" || cfg.Errors != "./data/replay_errors.jsonl" {
		t.Fatalf("unexpected output defaults: %+v", cfg)
	}
	if !cfg.CheckpointEnabled || cfg.Checkpoint != "./data/checkpoint.json" {
		t.Fatalf("unexpected checkpoint defaults: %+v", cfg)
	}
	if cfg.BatchSize != 200 || cfg.LogLevel != "info" {
		t.Fatalf("unexpected batch/log defaults: %+v", cfg)
	}
	if cfg.Ops != "" || cfg.PGDSN != "" {
		t.Fatalf("ops and pg-dsn must default empty: %+v", cfg)
	}
}

func TestLoadReplayFlagsOverrideDefaults(t *testing.T) {
	chdirTemp(t)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("ops", "", "")
	flags.Int("batch-size", 200, "")
	flags.Bool("checkpoint-enabled", true, "")
	if err := flags.Parse([]string{"--ops", "/tmp/ops.jsonl", "--batch-size", "5", "--checkpoint-enabled=false"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadReplay("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ops != "/tmp/ops.jsonl" || cfg.BatchSize != 5 || cfg.CheckpointEnabled {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}

func TestLoadReplayConfigFile(t *testing.T) {
	dir := chdirTemp(t)

	path := filepath.Join(dir, "config.yaml")
	body := "ops: /var/ops.jsonl\nbatch-size: 17\nlog-level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadReplay(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ops != "/var/ops.jsonl" || cfg.BatchSize != 17 || cfg.LogLevel != "debug" {
		t.Fatalf("config file not applied: %+v", cfg)
	}
}

func TestLoadReplayMissingExplicitConfig(t *testing.T) {
	chdirTemp(t)

	if _, err := LoadReplay("./does-not-exist.yaml", nil); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadCheckDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := LoadCheck("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Out != "./data/orders.json" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.In != "" {
		t.Fatalf("in must default empty: %+v", cfg)
	}
}
