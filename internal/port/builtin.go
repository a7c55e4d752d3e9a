package port

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomlang/loom/internal/fingerprint"
	"github.com/loomlang/loom/internal/unit"
)

func init() {
	DefaultRegistry.RegisterGenerator("echo", func(options map[string]string) (Generator, error) {
		return &EchoGenerator{Extension: options["extension"]}, nil
	})
	DefaultRegistry.RegisterVerifier("exact", func(options map[string]string) (Verifier, error) {
		return &ExactVerifier{Expected: options["expected"]}, nil
	})
}

// EchoGenerator mirrors the unit's source back as the candidate. It exists
// so the pipeline is runnable end to end without a real generation
// backend, and as a reference implementation for generator authors.
type EchoGenerator struct {
	// Extension is appended to the unit id to form the output path
	// (default ".out").
	Extension string
}

// Generate returns the unit source as a single-file candidate.
func (g *EchoGenerator) Generate(ctx context.Context, u unit.Unit, feedback unit.Feedback, round, variant int) (*unit.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ext := g.Extension
	if ext == "" {
		ext = ".out"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &unit.Candidate{
		Files: map[string]string{u.ID + ext: u.Source},
		Notes: map[string]any{
			"generator": "echo",
			"round":     round,
			"variant":   variant,
		},
	}, nil
}

// ExactVerifier passes a candidate whose normalized content matches the
// expected output. The expectation comes from the unit's
// metadata["expected"] entry, falling back to the strategy's Expected
// option. With no expectation configured, every candidate passes.
type ExactVerifier struct {
	Expected string
}

// Verify compares each candidate file against the expected content.
func (v *ExactVerifier) Verify(ctx context.Context, u unit.Unit, c *unit.Candidate) (*unit.VerifyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	expected := v.Expected
	if meta, ok := u.Metadata["expected"].(string); ok {
		expected = meta
	}
	if expected == "" {
		return &unit.VerifyResult{Passed: true}, nil
	}

	want := fingerprint.Normalize(expected)
	var diags []string
	for path, contents := range c.Files {
		if fingerprint.Normalize(contents) != want {
			diags = append(diags, fmt.Sprintf("%s: output does not match expected content", path))
		}
	}
	if len(diags) == 0 {
		return &unit.VerifyResult{Passed: true}, nil
	}
	return &unit.VerifyResult{
		Passed: false,
		Feedback: unit.Feedback{
			Diagnostics: diags,
			Details:     map[string]any{"strategy": "exact"},
		},
	}, nil
}
