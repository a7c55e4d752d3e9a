package config

import (
	"fmt"
	"strings"

	"github.com/loomlang/loom/internal/errors"
	"github.com/loomlang/loom/internal/logging"
)

// Validate checks the configuration for values the pipeline cannot run
// with. All problems are reported at once, joined into a single error
// wrapping errors.ErrInvalidInput.
func Validate(cfg *Config) error {
	var problems []string

	if strings.TrimSpace(cfg.Run.Root) == "" {
		problems = append(problems, "run.root must not be empty")
	}
	if cfg.Run.Concurrency < 1 {
		problems = append(problems, fmt.Sprintf("run.concurrency must be >= 1, got %d", cfg.Run.Concurrency))
	}
	if cfg.Pipeline.MaxRetries < 0 {
		problems = append(problems, fmt.Sprintf("pipeline.max_retries must be >= 0, got %d", cfg.Pipeline.MaxRetries))
	}
	if cfg.Pipeline.ParallelWorkers < 1 {
		problems = append(problems, fmt.Sprintf("pipeline.parallel_workers must be >= 1, got %d", cfg.Pipeline.ParallelWorkers))
	}
	if cfg.Pipeline.RoundTimeoutSeconds < 0 {
		problems = append(problems, fmt.Sprintf("pipeline.round_timeout_seconds must be >= 0, got %d", cfg.Pipeline.RoundTimeoutSeconds))
	}
	if strings.TrimSpace(cfg.Generator.Name) == "" {
		problems = append(problems, "generator.name must not be empty")
	}
	if strings.TrimSpace(cfg.Verifier.Name) == "" {
		problems = append(problems, "verifier.name must not be empty")
	}
	if !validLevel(cfg.Logging.Level) {
		problems = append(problems, fmt.Sprintf("logging.level must be one of %s, got %q",
			strings.Join(logging.ValidLevels(), ", "), cfg.Logging.Level))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", errors.ErrInvalidInput, strings.Join(problems, "; "))
}

func validLevel(level string) bool {
	upper := strings.ToUpper(level)
	for _, valid := range logging.ValidLevels() {
		if upper == valid {
			return true
		}
	}
	return false
}
