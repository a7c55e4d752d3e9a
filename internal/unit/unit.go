// Package unit defines the core value types that flow through the loom
// pipeline: units of source work, generated candidates, verification
// results, attempts, and per-unit outcomes.
package unit

import (
	"maps"
	"time"
)

// Status represents the lifecycle state of a unit within a run.
type Status string

const (
	// StatusPending means the unit has not started processing.
	StatusPending Status = "pending"
	// StatusGenerating means a round is currently generating candidates.
	StatusGenerating Status = "generating"
	// StatusVerifying means a round is currently verifying candidates.
	StatusVerifying Status = "verifying"
	// StatusRefining means a round failed and the next round will run
	// with consolidated feedback.
	StatusRefining Status = "refining"
	// StatusDone is terminal: a round produced a verified winner.
	StatusDone Status = "done"
	// StatusFailed is terminal: retries were exhausted or a port faulted.
	StatusFailed Status = "failed"
	// StatusCancelled is terminal: the run was cancelled by the operator
	// or a timeout. Distinct from StatusFailed so callers can tell policy
	// exhaustion from cancellation.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Unit is an atomic piece of source work. It is immutable once handed to
// the coordinator; the pipeline only reads it.
type Unit struct {
	// ID is stable across resumed runs and identifies the unit in the
	// ledger and artifact store.
	ID string `json:"id"`
	// Source is the source payload to convert.
	Source string `json:"source"`
	// Language is the source language name, as reported by the
	// decomposition step.
	Language string `json:"language,omitempty"`
	// Kind describes the unit granularity (module, function, ...).
	Kind string `json:"kind,omitempty"`
	// Metadata is opaque decomposition metadata. The pipeline passes it
	// through to the ports untouched.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Candidate is one generated artifact attempting to satisfy a unit.
type Candidate struct {
	// Files maps target-relative paths to generated contents.
	Files map[string]string `json:"files"`
	// Notes holds free-form generator metadata (attempt, variant,
	// temperature, ...).
	Notes map[string]any `json:"notes,omitempty"`
	// Tests holds generated tests attached to the candidate, keyed by
	// relative path.
	Tests map[string]string `json:"tests,omitempty"`
}

// AddTest attaches a generated test file to the candidate.
func (c *Candidate) AddTest(path, contents string) {
	if c.Tests == nil {
		c.Tests = make(map[string]string)
	}
	c.Tests[path] = contents
}

// Feedback is the structured verification feedback threaded between
// refinement rounds. Values are treated as immutable once attached to a
// VerifyResult; use Clone before mutating a copy.
type Feedback struct {
	// Diagnostics are human-readable failure descriptions, ordered.
	Diagnostics []string `json:"diagnostics,omitempty"`
	// Tests are verifier-generated test files keyed by relative path.
	Tests map[string]string `json:"tests,omitempty"`
	// Details is an open key/value map for strategy-specific payloads.
	Details map[string]any `json:"details,omitempty"`
}

// IsZero reports whether the feedback carries no information.
func (f Feedback) IsZero() bool {
	return len(f.Diagnostics) == 0 && len(f.Tests) == 0 && len(f.Details) == 0
}

// Clone returns a deep copy of the feedback.
func (f Feedback) Clone() Feedback {
	out := Feedback{}
	if f.Diagnostics != nil {
		out.Diagnostics = make([]string, len(f.Diagnostics))
		copy(out.Diagnostics, f.Diagnostics)
	}
	if f.Tests != nil {
		out.Tests = maps.Clone(f.Tests)
	}
	if f.Details != nil {
		out.Details = maps.Clone(f.Details)
	}
	return out
}

// VerifyResult is the outcome of verifying one candidate. Never mutated
// after creation.
type VerifyResult struct {
	// Passed reports whether the candidate satisfied verification.
	Passed bool `json:"passed"`
	// Feedback carries diagnostics and generated tests for refinement.
	Feedback Feedback `json:"feedback,omitempty"`
}

// Attempt is one generate+verify trial within a refinement round. Created
// by the attempt race and immutable once recorded.
type Attempt struct {
	UnitID string `json:"unit_id"`
	// Round is the refinement round index, starting at 0.
	Round int `json:"round"`
	// Index is the worker/variant index within the round, starting at 0.
	// Winner selection is by ascending index, never completion order.
	Index int `json:"index"`
	// Candidate is the generated artifact, nil when generation faulted.
	Candidate *Candidate `json:"candidate,omitempty"`
	// Result is the verification outcome, nil when the attempt faulted
	// before or during verification.
	Result *VerifyResult `json:"result,omitempty"`
	// Fingerprint is the stable hash of the candidate's normalized
	// content, used for dedup within a round.
	Fingerprint string `json:"fingerprint,omitempty"`
	// DedupOf is the index of the earlier attempt whose verification
	// result was reused, or -1 when this attempt was verified itself.
	DedupOf int `json:"dedup_of"`
	// Err records a fatal (non-verification) attempt error.
	Err string `json:"error,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Passed reports whether this attempt produced a passing verification.
func (a *Attempt) Passed() bool {
	return a.Err == "" && a.Result != nil && a.Result.Passed
}

// Fatal reports whether this attempt failed for a non-verification reason.
func (a *Attempt) Fatal() bool {
	return a.Err != ""
}

// Outcome is the terminal result for one unit, handed to the integration
// port for done units and surfaced to callers for diagnosis otherwise.
type Outcome struct {
	UnitID string `json:"unit_id"`
	Status Status `json:"status"`
	// Winner is the selected passing attempt, nil unless Status is done.
	Winner *Attempt `json:"winner,omitempty"`
	// Attempts holds every attempt record across all rounds, in
	// (round, index) order.
	Attempts []*Attempt `json:"attempts,omitempty"`
	// FeedbackHistory holds one consolidated feedback per failed round.
	FeedbackHistory []Feedback `json:"feedback_history,omitempty"`
	// Rounds is the number of rounds executed.
	Rounds int `json:"rounds"`
	// Err describes why the unit failed or was cancelled.
	Err string `json:"error,omitempty"`
	// Resumed marks an outcome reconstructed from a prior run's ledger
	// without re-invoking any port.
	Resumed bool `json:"resumed,omitempty"`
	// Artifacts is the number of store entries the unit registered.
	Artifacts int `json:"artifacts,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Elapsed returns the wall time spent on the unit.
func (o *Outcome) Elapsed() time.Duration {
	if o.CompletedAt.IsZero() || o.StartedAt.IsZero() {
		return 0
	}
	return o.CompletedAt.Sub(o.StartedAt)
}
