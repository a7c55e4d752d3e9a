package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete loom configuration.
type Config struct {
	Run       RunConfig      `mapstructure:"run"`
	Pipeline  PipelineConfig `mapstructure:"pipeline"`
	Generator PortConfig     `mapstructure:"generator"`
	Verifier  PortConfig     `mapstructure:"verifier"`
	Logging   LoggingConfig  `mapstructure:"logging"`
}

// RunConfig controls run-level behavior.
type RunConfig struct {
	// Root is the directory under which per-run state is created.
	Root string `mapstructure:"root"`
	// Concurrency is the maximum number of units processed in parallel.
	Concurrency int `mapstructure:"concurrency"`
}

// PipelineConfig controls the per-unit refinement loop.
type PipelineConfig struct {
	// MaxRetries is the number of refinement rounds after round 0.
	// A unit executes at most MaxRetries+1 rounds.
	MaxRetries int `mapstructure:"max_retries"`
	// ParallelWorkers is the number of concurrent attempts per round.
	ParallelWorkers int `mapstructure:"parallel_workers"`
	// RoundTimeoutSeconds bounds one round's wall time; 0 disables the
	// timeout. Expiry cancels pending attempts, not completed results.
	RoundTimeoutSeconds int `mapstructure:"round_timeout_seconds"`
	// PreserveStages lists artifact stages kept when a unit's stale
	// outputs are cleared before a retry round (default: analyzer).
	PreserveStages []string `mapstructure:"preserve_stages"`
}

// RoundTimeout returns the round timeout as a duration, 0 when disabled.
func (p PipelineConfig) RoundTimeout() time.Duration {
	return time.Duration(p.RoundTimeoutSeconds) * time.Second
}

// PortConfig names a port implementation and its options.
type PortConfig struct {
	// Name selects the registered implementation (e.g. "echo", "exact").
	Name string `mapstructure:"name"`
	// Options holds implementation-specific settings.
	Options map[string]string `mapstructure:"options"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level"`
}

// Load reads configuration from the given file (or .loom.yaml in the
// working directory when path is empty), applying defaults and LOOM_*
// environment overrides. A missing config file is not an error; defaults
// apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".loom")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// An explicit path must exist and parse; the implicit search is
		// allowed to come up empty, but not to fail any other way.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default configuration without reading any file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Unmarshal of defaults cannot fail; ignore the error.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.root", ".loom/runs")
	v.SetDefault("run.concurrency", 4)
	v.SetDefault("pipeline.max_retries", 2)
	v.SetDefault("pipeline.parallel_workers", 3)
	v.SetDefault("pipeline.round_timeout_seconds", 0)
	v.SetDefault("pipeline.preserve_stages", []string{"analyzer"})
	v.SetDefault("generator.name", "echo")
	v.SetDefault("verifier.name", "exact")
	v.SetDefault("logging.level", "INFO")
}
