// Package port defines the capability interfaces the pipeline coordinates:
// candidate generation, candidate verification, and integration of winning
// candidates. The pipeline never depends on concrete implementations; it
// dispatches through these interfaces and consumes their results.
package port

import (
	"context"

	"github.com/loomlang/loom/internal/unit"
)

// Generator produces one candidate for a unit. Implementations may vary
// output per variant index (e.g. via sampling temperature) and should
// honor context cancellation. An error return is a port fault, not a
// verification failure.
type Generator interface {
	Generate(ctx context.Context, u unit.Unit, feedback unit.Feedback, round, variant int) (*unit.Candidate, error)
}

// Verifier assesses whether a candidate satisfies a unit. A failing
// candidate is reported through VerifyResult.Passed with feedback, never
// through the error return; the error return is reserved for port faults
// (the verifier itself being unreachable or broken).
type Verifier interface {
	Verify(ctx context.Context, u unit.Unit, c *unit.Candidate) (*unit.VerifyResult, error)
}

// Integrator materializes a verified winning candidate into its final
// destination. The pipeline's responsibility ends at this handoff.
type Integrator interface {
	Integrate(ctx context.Context, u unit.Unit, c *unit.Candidate) error
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, u unit.Unit, feedback unit.Feedback, round, variant int) (*unit.Candidate, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, u unit.Unit, feedback unit.Feedback, round, variant int) (*unit.Candidate, error) {
	return f(ctx, u, feedback, round, variant)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, u unit.Unit, c *unit.Candidate) (*unit.VerifyResult, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, u unit.Unit, c *unit.Candidate) (*unit.VerifyResult, error) {
	return f(ctx, u, c)
}

// IntegratorFunc adapts a function to the Integrator interface.
type IntegratorFunc func(ctx context.Context, u unit.Unit, c *unit.Candidate) error

// Integrate calls f.
func (f IntegratorFunc) Integrate(ctx context.Context, u unit.Unit, c *unit.Candidate) error {
	return f(ctx, u, c)
}
