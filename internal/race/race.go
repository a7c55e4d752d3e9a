// Package race runs one refinement round as a set of parallel attempts
// against the generation and verification ports. Attempts that converge
// on identical candidates share a single verification, and the winner is
// chosen by attempt index so a round's result does not depend on
// goroutine scheduling.
package race

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loomlang/loom/internal/artifact"
	"github.com/loomlang/loom/internal/errors"
	"github.com/loomlang/loom/internal/fingerprint"
	"github.com/loomlang/loom/internal/logging"
	"github.com/loomlang/loom/internal/port"
	"github.com/loomlang/loom/internal/unit"
)

// Racer executes attempt races for one run. Safe for concurrent use
// across units.
type Racer struct {
	generator port.Generator
	verifier  port.Verifier
	store     *artifact.Store
	logger    *logging.Logger
}

// NewRacer creates a Racer. The store may be nil, in which case attempt
// outputs are not written to disk.
func NewRacer(generator port.Generator, verifier port.Verifier, store *artifact.Store, logger *logging.Logger) *Racer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Racer{
		generator: generator,
		verifier:  verifier,
		store:     store,
		logger:    logger,
	}
}

// RoundOutcome is the result of one round's attempt race.
type RoundOutcome struct {
	// Winner is the passing attempt with the lowest index, nil when no
	// attempt passed.
	Winner *unit.Attempt
	// Attempts holds every attempt record in index order.
	Attempts []*unit.Attempt
	// Fatal is set when every attempt failed with a port fault, meaning
	// further rounds cannot help.
	Fatal bool
	// Cancelled is set when at least one attempt was cut short by
	// context cancellation and no attempt won.
	Cancelled bool
}

// claim tracks the single verification of one candidate fingerprint.
// The first attempt to produce a fingerprint verifies it; later attempts
// with the same fingerprint wait on done and reuse the result.
type claim struct {
	index  int
	done   chan struct{}
	result *unit.VerifyResult
	err    error
}

// attemptKind classifies how an attempt ended, so a round cancelled by a
// timeout is never mistaken for a round where every port faulted.
type attemptKind int

const (
	attemptCompleted attemptKind = iota
	attemptFaulted
	attemptCancelled
)

// RunRound generates and verifies workers candidates in parallel and
// selects a winner. Attempts never abort each other: a fault in one
// attempt is recorded on that attempt while the rest run to completion.
func (r *Racer) RunRound(ctx context.Context, u unit.Unit, feedback unit.Feedback, round, workers int) (*RoundOutcome, error) {
	if workers < 1 {
		return nil, fmt.Errorf("%w: attempt count must be >= 1, got %d", errors.ErrInvalidInput, workers)
	}

	log := r.logger.WithUnit(u.ID).WithRound(round)
	log.Debug("attempt race starting", "workers", workers)

	attempts := make([]*unit.Attempt, workers)
	kinds := make([]attemptKind, workers)
	claims := make(map[string]*claim)
	var claimsMu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			attempts[index], kinds[index] = r.runAttempt(ctx, u, feedback, round, index, claims, &claimsMu)
		}(i)
	}
	wg.Wait()

	outcome := &RoundOutcome{Attempts: attempts}

	// Winner selection is by ascending index among passing attempts,
	// never by completion order.
	for _, attempt := range attempts {
		if attempt.Passed() {
			outcome.Winner = attempt
			break
		}
	}

	if outcome.Winner == nil {
		faults := 0
		for _, kind := range kinds {
			switch kind {
			case attemptFaulted:
				faults++
			case attemptCancelled:
				outcome.Cancelled = true
			}
		}
		outcome.Fatal = faults == workers
	}

	log.Debug("attempt race finished",
		"winner", winnerIndex(outcome.Winner),
		"fatal", outcome.Fatal)
	return outcome, nil
}

// runAttempt executes one generate+verify attempt and records its result.
func (r *Racer) runAttempt(ctx context.Context, u unit.Unit, feedback unit.Feedback, round, index int, claims map[string]*claim, claimsMu *sync.Mutex) (*unit.Attempt, attemptKind) {
	attempt := &unit.Attempt{
		UnitID:    u.ID,
		Round:     round,
		Index:     index,
		DedupOf:   -1,
		StartedAt: time.Now(),
	}
	defer func() { attempt.CompletedAt = time.Now() }()

	log := r.logger.WithUnit(u.ID).WithRound(round).With("attempt", index)

	if err := ctx.Err(); err != nil {
		attempt.Err = err.Error()
		return attempt, attemptCancelled
	}

	candidate, err := r.generator.Generate(ctx, u, feedback, round, index)
	if err != nil {
		if errors.IsCancelled(err) {
			attempt.Err = err.Error()
			return attempt, attemptCancelled
		}
		fault := errors.NewPortError("generator", err).WithUnit(u.ID).WithRound(round).WithIndex(index)
		log.Warn("generation faulted", "error", err)
		attempt.Err = fault.Error()
		return attempt, attemptFaulted
	}
	if candidate == nil || len(candidate.Files) == 0 {
		fault := errors.NewPortError("generator", errors.New("empty candidate")).
			WithUnit(u.ID).WithRound(round).WithIndex(index)
		attempt.Err = fault.Error()
		return attempt, attemptFaulted
	}

	attempt.Candidate = candidate
	attempt.Fingerprint = fingerprint.Candidate(candidate)

	if err := r.storeCandidate(u.ID, round, index, candidate); err != nil {
		log.Warn("failed to store candidate artifacts", "error", err)
	}

	result, dedupOf, err := r.verifyDeduped(ctx, u, attempt, claims, claimsMu)
	attempt.DedupOf = dedupOf
	if err != nil {
		if errors.IsCancelled(err) {
			attempt.Err = err.Error()
			return attempt, attemptCancelled
		}
		fault := errors.NewPortError("verifier", err).WithUnit(u.ID).WithRound(round).WithIndex(index)
		log.Warn("verification faulted", "error", err)
		attempt.Err = fault.Error()
		return attempt, attemptFaulted
	}
	attempt.Result = result

	if err := r.storeResult(u.ID, round, index, result); err != nil {
		log.Warn("failed to store verification artifacts", "error", err)
	}
	return attempt, attemptCompleted
}

// verifyDeduped ensures each fingerprint is verified at most once per
// round. Returns the result, the index of the attempt whose verification
// was reused (-1 when this attempt verified itself), and any fault.
func (r *Racer) verifyDeduped(ctx context.Context, u unit.Unit, attempt *unit.Attempt, claims map[string]*claim, claimsMu *sync.Mutex) (*unit.VerifyResult, int, error) {
	claimsMu.Lock()
	existing, ok := claims[attempt.Fingerprint]
	if ok {
		claimsMu.Unlock()
		select {
		case <-existing.done:
			return existing.result, existing.index, existing.err
		case <-ctx.Done():
			return nil, existing.index, ctx.Err()
		}
	}

	c := &claim{index: attempt.Index, done: make(chan struct{})}
	claims[attempt.Fingerprint] = c
	claimsMu.Unlock()

	c.result, c.err = r.verifier.Verify(ctx, u, attempt.Candidate)
	if c.err == nil && c.result == nil {
		c.err = errors.New("verifier returned no result")
	}
	close(c.done)
	return c.result, -1, c.err
}

// storeCandidate writes a candidate's files into the generator stage and
// registers them in the artifact manifest.
func (r *Racer) storeCandidate(unitID string, round, index int, candidate *unit.Candidate) error {
	if r.store == nil {
		return nil
	}
	dir, err := r.store.AttemptDir(artifact.StageGenerator, unitID, round, index)
	if err != nil {
		return err
	}
	for path, contents := range candidate.Files {
		dest := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, []byte(contents), 0644); err != nil {
			return err
		}
		if _, err := r.store.Register(artifact.StageGenerator, unitID, round, dest, map[string]string{
			"attempt": fmt.Sprintf("%d", index),
		}); err != nil {
			return err
		}
	}
	return nil
}

// storeResult writes a verification result into the verifier stage.
func (r *Racer) storeResult(unitID string, round, index int, result *unit.VerifyResult) error {
	if r.store == nil {
		return nil
	}
	dir, err := r.store.AttemptDir(artifact.StageVerifier, unitID, round, index)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	dest := filepath.Join(dir, "result.json")
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return err
	}
	_, err = r.store.Register(artifact.StageVerifier, unitID, round, dest, map[string]string{
		"attempt": fmt.Sprintf("%d", index),
		"passed":  fmt.Sprintf("%t", result.Passed),
	})
	return err
}

func winnerIndex(winner *unit.Attempt) int {
	if winner == nil {
		return -1
	}
	return winner.Index
}
