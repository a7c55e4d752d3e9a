package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loomlang/loom/internal/errors"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Run.Root != ".loom/runs" {
		t.Errorf("run.root = %q", cfg.Run.Root)
	}
	if cfg.Run.Concurrency != 4 {
		t.Errorf("run.concurrency = %d", cfg.Run.Concurrency)
	}
	if cfg.Pipeline.MaxRetries != 2 {
		t.Errorf("pipeline.max_retries = %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Pipeline.ParallelWorkers != 3 {
		t.Errorf("pipeline.parallel_workers = %d", cfg.Pipeline.ParallelWorkers)
	}
	if len(cfg.Pipeline.PreserveStages) != 1 || cfg.Pipeline.PreserveStages[0] != "analyzer" {
		t.Errorf("pipeline.preserve_stages = %v", cfg.Pipeline.PreserveStages)
	}
	if cfg.Generator.Name != "echo" || cfg.Verifier.Name != "exact" {
		t.Errorf("ports = %q/%q", cfg.Generator.Name, cfg.Verifier.Name)
	}
	if cfg.Pipeline.RoundTimeout() != 0 {
		t.Errorf("round timeout = %v, want disabled", cfg.Pipeline.RoundTimeout())
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	content := `
run:
  root: /tmp/loom-runs
  concurrency: 8
pipeline:
  max_retries: 1
  parallel_workers: 5
  round_timeout_seconds: 30
verifier:
  name: exact
  options:
    expected: "hello"
logging:
  level: DEBUG
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Run.Root != "/tmp/loom-runs" || cfg.Run.Concurrency != 8 {
		t.Errorf("run config = %+v", cfg.Run)
	}
	if cfg.Pipeline.MaxRetries != 1 || cfg.Pipeline.ParallelWorkers != 5 {
		t.Errorf("pipeline config = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.RoundTimeoutSeconds != 30 {
		t.Errorf("round_timeout_seconds = %d", cfg.Pipeline.RoundTimeoutSeconds)
	}
	if cfg.Verifier.Options["expected"] != "hello" {
		t.Errorf("verifier options = %v", cfg.Verifier.Options)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("logging.level = %q", cfg.Logging.Level)
	}
	// Unset keys keep their defaults.
	if cfg.Generator.Name != "echo" {
		t.Errorf("generator.name = %q, want default echo", cfg.Generator.Name)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty root", func(c *Config) { c.Run.Root = " " }},
		{"zero concurrency", func(c *Config) { c.Run.Concurrency = 0 }},
		{"negative retries", func(c *Config) { c.Pipeline.MaxRetries = -1 }},
		{"zero workers", func(c *Config) { c.Pipeline.ParallelWorkers = 0 }},
		{"negative timeout", func(c *Config) { c.Pipeline.RoundTimeoutSeconds = -5 }},
		{"empty generator", func(c *Config) { c.Generator.Name = "" }},
		{"empty verifier", func(c *Config) { c.Verifier.Name = "" }},
		{"bad level", func(c *Config) { c.Logging.Level = "LOUD" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := Validate(cfg); !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Run.Concurrency = 0
	cfg.Pipeline.MaxRetries = -1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"concurrency", "max_retries"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q should mention %s", msg, want)
		}
	}
}
