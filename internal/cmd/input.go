package cmd

import (
	"fmt"
	"os"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/loomlang/loom/internal/errors"
	"github.com/loomlang/loom/internal/unit"
)

// unitsFile is the YAML document produced by the decomposition step: a
// list of units to convert.
type unitsFile struct {
	Units []unitEntry `yaml:"units"`
}

type unitEntry struct {
	ID       string         `yaml:"id"`
	Source   string         `yaml:"source"`
	File     string         `yaml:"file"`
	Language string         `yaml:"language"`
	Kind     string         `yaml:"kind"`
	Metadata map[string]any `yaml:"metadata"`
}

// loadUnitsFile reads and validates a units YAML file. Each entry carries
// its source inline or names a file to read it from.
func loadUnitsFile(path string) ([]unit.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read units file: %w", err)
	}

	var doc unitsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid units file: %v", errors.ErrInvalidInput, err)
	}
	if len(doc.Units) == 0 {
		return nil, fmt.Errorf("%w: units file %s contains no units", errors.ErrInvalidInput, path)
	}

	units := make([]unit.Unit, 0, len(doc.Units))
	for i, entry := range doc.Units {
		if entry.ID == "" {
			return nil, fmt.Errorf("%w: unit %d has no id", errors.ErrInvalidInput, i)
		}
		source := entry.Source
		if source == "" && entry.File != "" {
			raw, err := os.ReadFile(entry.File)
			if err != nil {
				return nil, fmt.Errorf("failed to read source for unit %s: %w", entry.ID, err)
			}
			source = string(raw)
		}
		if source == "" {
			return nil, fmt.Errorf("%w: unit %s has neither source nor file", errors.ErrInvalidInput, entry.ID)
		}
		units = append(units, unit.Unit{
			ID:       entry.ID,
			Source:   source,
			Language: entry.Language,
			Kind:     entry.Kind,
			Metadata: entry.Metadata,
		})
	}
	return units, nil
}

// filterUnits keeps units whose id matches any of the glob patterns. An
// empty pattern list keeps everything.
func filterUnits(units []unit.Unit, patterns []string) ([]unit.Unit, error) {
	if len(patterns) == 0 {
		return units, nil
	}

	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid unit pattern %q: %v", errors.ErrInvalidInput, pattern, err)
		}
		globs = append(globs, g)
	}

	var selected []unit.Unit
	for _, u := range units {
		for _, g := range globs {
			if g.Match(u.ID) {
				selected = append(selected, u)
				break
			}
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no units match patterns %v", errors.ErrInvalidInput, patterns)
	}
	return selected, nil
}
