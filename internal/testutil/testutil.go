// Package testutil provides testing utilities for loom tests: scratch
// run ledgers and artifact stores, plus scripted and counting port
// implementations for exercising the coordinator without real backends.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/loomlang/loom/internal/artifact"
	"github.com/loomlang/loom/internal/ledger"
	"github.com/loomlang/loom/internal/logging"
	"github.com/loomlang/loom/internal/unit"
)

// NewRun creates a fresh run ledger in a temp directory and returns the
// open run. The run is closed when the test completes.
func NewRun(t *testing.T) *ledger.Run {
	t.Helper()

	l, err := ledger.NewLedger(t.TempDir(), logging.NopLogger())
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	run, err := l.Start("")
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	t.Cleanup(func() { run.Close() })
	return run
}

// NewStore creates an artifact store in a temp directory.
func NewStore(t *testing.T) *artifact.Store {
	t.Helper()

	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create artifact store: %v", err)
	}
	return store
}

// SimpleCandidate builds a single-file candidate.
func SimpleCandidate(path, contents string) *unit.Candidate {
	return &unit.Candidate{Files: map[string]string{path: contents}}
}

// ScriptedGenerator returns canned candidates keyed by (round, variant).
// Keys not present in the script produce a generation fault. All calls
// are counted.
type ScriptedGenerator struct {
	mu     sync.Mutex
	script map[[2]int]*unit.Candidate
	errs   map[[2]int]error
	calls  atomic.Int64
	// Feedback records the feedback passed to each call, keyed the same
	// way as the script.
	Feedback map[[2]int]unit.Feedback
}

// NewScriptedGenerator creates an empty ScriptedGenerator.
func NewScriptedGenerator() *ScriptedGenerator {
	return &ScriptedGenerator{
		script:   make(map[[2]int]*unit.Candidate),
		errs:     make(map[[2]int]error),
		Feedback: make(map[[2]int]unit.Feedback),
	}
}

// On sets the candidate returned for a (round, variant) pair.
func (g *ScriptedGenerator) On(round, variant int, c *unit.Candidate) *ScriptedGenerator {
	g.script[[2]int{round, variant}] = c
	return g
}

// FailOn makes a (round, variant) pair return the given error.
func (g *ScriptedGenerator) FailOn(round, variant int, err error) *ScriptedGenerator {
	g.errs[[2]int{round, variant}] = err
	return g
}

// Calls returns how many times Generate was invoked.
func (g *ScriptedGenerator) Calls() int {
	return int(g.calls.Load())
}

// Generate returns the scripted candidate for (round, variant).
func (g *ScriptedGenerator) Generate(ctx context.Context, u unit.Unit, feedback unit.Feedback, round, variant int) (*unit.Candidate, error) {
	g.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	key := [2]int{round, variant}
	g.Feedback[key] = feedback.Clone()
	if err, ok := g.errs[key]; ok {
		return nil, err
	}
	if c, ok := g.script[key]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("no scripted candidate for round %d variant %d", round, variant)
}

// PassingVerifier passes every candidate and counts calls.
type PassingVerifier struct {
	calls atomic.Int64
}

// Calls returns how many times Verify was invoked.
func (v *PassingVerifier) Calls() int {
	return int(v.calls.Load())
}

// Verify passes unconditionally.
func (v *PassingVerifier) Verify(ctx context.Context, u unit.Unit, c *unit.Candidate) (*unit.VerifyResult, error) {
	v.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &unit.VerifyResult{Passed: true}, nil
}

// ContentVerifier passes candidates whose named file matches the wanted
// contents exactly, failing others with a diagnostic. Calls are counted.
type ContentVerifier struct {
	Path  string
	Want  string
	calls atomic.Int64
}

// Calls returns how many times Verify was invoked.
func (v *ContentVerifier) Calls() int {
	return int(v.calls.Load())
}

// Verify compares the named file against the wanted contents.
func (v *ContentVerifier) Verify(ctx context.Context, u unit.Unit, c *unit.Candidate) (*unit.VerifyResult, error) {
	v.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Files[v.Path] == v.Want {
		return &unit.VerifyResult{Passed: true}, nil
	}
	return &unit.VerifyResult{
		Passed: false,
		Feedback: unit.Feedback{
			Diagnostics: []string{fmt.Sprintf("%s: content mismatch", v.Path)},
		},
	}, nil
}

// FaultingVerifier fails every verification with the given error.
type FaultingVerifier struct {
	Err   error
	calls atomic.Int64
}

// Calls returns how many times Verify was invoked.
func (v *FaultingVerifier) Calls() int {
	return int(v.calls.Load())
}

// Verify always returns the configured error.
func (v *FaultingVerifier) Verify(ctx context.Context, u unit.Unit, c *unit.Candidate) (*unit.VerifyResult, error) {
	v.calls.Add(1)
	return nil, v.Err
}

// RecordingIntegrator captures integrated candidates keyed by unit id.
type RecordingIntegrator struct {
	mu         sync.Mutex
	Integrated map[string]*unit.Candidate
}

// NewRecordingIntegrator creates an empty RecordingIntegrator.
func NewRecordingIntegrator() *RecordingIntegrator {
	return &RecordingIntegrator{Integrated: make(map[string]*unit.Candidate)}
}

// Integrate records the candidate.
func (r *RecordingIntegrator) Integrate(ctx context.Context, u unit.Unit, c *unit.Candidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Integrated[u.ID] = c
	return nil
}

// Candidate returns the integrated candidate for a unit id, nil if none.
func (r *RecordingIntegrator) Candidate(unitID string) *unit.Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Integrated[unitID]
}
