// Package coordinator drives units through the refinement pipeline: it
// runs attempt races round by round, threads consolidated feedback into
// retries, persists winners through the run ledger, and hands verified
// candidates to the integration port. It owns the per-unit state machine
// and the run-level worker pool.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/loomlang/loom/internal/artifact"
	"github.com/loomlang/loom/internal/errors"
	"github.com/loomlang/loom/internal/ledger"
	"github.com/loomlang/loom/internal/logging"
	"github.com/loomlang/loom/internal/port"
	"github.com/loomlang/loom/internal/race"
	"github.com/loomlang/loom/internal/unit"
)

// Observer receives unit progress notifications. Called from worker
// goroutines; implementations must be safe for concurrent use.
type Observer func(unitID string, status unit.Status, round int)

// Options configure the per-unit refinement loop.
type Options struct {
	// MaxRetries is the number of refinement rounds after round 0.
	MaxRetries int
	// Workers is the number of parallel attempts per round.
	Workers int
	// RoundTimeout bounds one round's wall time; 0 disables it.
	RoundTimeout time.Duration
	// PreserveStages lists artifact stages kept across retry rounds.
	PreserveStages []string
	// Concurrency is the number of units processed in parallel.
	Concurrency int
}

// Coordinator executes the pipeline for the units of one run.
type Coordinator struct {
	opts       Options
	racer      *race.Racer
	integrator port.Integrator
	store      *artifact.Store
	run        *ledger.Run
	logger     *logging.Logger
	observer   Observer
}

// New creates a Coordinator. The integrator, store, and observer may be
// nil; the racer and run are required.
func New(opts Options, racer *race.Racer, integrator port.Integrator, store *artifact.Store, run *ledger.Run, logger *logging.Logger) *Coordinator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Coordinator{
		opts:       opts,
		racer:      racer,
		integrator: integrator,
		store:      store,
		run:        run,
		logger:     logger,
	}
}

// SetObserver installs a progress observer. Must be called before RunAll.
func (c *Coordinator) SetObserver(observer Observer) {
	c.observer = observer
}

// RunUnit processes one unit to a terminal state. Verification failures
// drive refinement rounds; port faults fail the unit without retry;
// cancellation yields a cancelled outcome distinct from failure. A unit
// already completed in a prior run is reconstructed from the ledger
// without invoking any port.
func (c *Coordinator) RunUnit(ctx context.Context, u unit.Unit) *unit.Outcome {
	log := c.logger.WithUnit(u.ID)

	if outcome := c.resumeCompleted(u, log); outcome != nil {
		return outcome
	}

	outcome := &unit.Outcome{
		UnitID:    u.ID,
		Status:    unit.StatusPending,
		StartedAt: time.Now(),
	}
	defer func() { outcome.CompletedAt = time.Now() }()

	if err := c.run.MarkUnitStarted(u.ID); err != nil {
		return c.fail(outcome, log, err)
	}
	c.run.LogEvent(ledger.Event{Type: ledger.EventUnitStarted, UnitID: u.ID})

	var feedback unit.Feedback
	for round := 0; round <= c.opts.MaxRetries; round++ {
		if err := ctx.Err(); err != nil {
			return c.cancel(outcome, log, err)
		}

		// Clear stale outputs from the failed round before retrying.
		if round > 0 && c.store != nil {
			if err := c.store.Reset(u.ID, c.opts.PreserveStages); err != nil {
				return c.fail(outcome, log, err)
			}
		}

		outcome.Rounds = round + 1
		outcome.Status = unit.StatusGenerating
		c.notify(u.ID, unit.StatusGenerating, round)
		c.run.LogEvent(ledger.Event{Type: ledger.EventRoundStarted, UnitID: u.ID, Round: round, Fields: map[string]any{
			"workers": c.opts.Workers,
		}})

		roundCtx := ctx
		var cancelRound context.CancelFunc
		if c.opts.RoundTimeout > 0 {
			roundCtx, cancelRound = context.WithTimeout(ctx, c.opts.RoundTimeout)
		}

		outcome.Status = unit.StatusVerifying
		c.notify(u.ID, unit.StatusVerifying, round)
		ro, err := c.racer.RunRound(roundCtx, u, feedback, round, c.opts.Workers)
		if cancelRound != nil {
			cancelRound()
		}
		if err != nil {
			return c.fail(outcome, log, err)
		}
		outcome.Attempts = append(outcome.Attempts, ro.Attempts...)
		c.run.LogEvent(ledger.Event{Type: ledger.EventRoundFinished, UnitID: u.ID, Round: round, Fields: map[string]any{
			"winner": roundWinner(ro),
			"fatal":  ro.Fatal,
		}})

		if ro.Winner != nil {
			return c.complete(ctx, outcome, u, ro.Winner, log)
		}
		if ro.Cancelled {
			if err := ctx.Err(); err != nil {
				return c.cancel(outcome, log, err)
			}
			// A round deadline expired. The round counts as failed and the
			// unit retries if budget remains.
			log.Warn("round deadline expired", "round", round)
		}
		if ro.Fatal {
			// Every attempt hit a port fault; retrying cannot help.
			return c.fail(outcome, log, fmt.Errorf("round %d: %w", round, errors.ErrPortFault))
		}

		feedback = Consolidate(ro.Attempts)
		outcome.FeedbackHistory = append(outcome.FeedbackHistory, feedback)
		if round < c.opts.MaxRetries {
			outcome.Status = unit.StatusRefining
			c.notify(u.ID, unit.StatusRefining, round)
			log.Info("round failed, refining",
				"round", round,
				"diagnostics", len(feedback.Diagnostics))
		}
	}

	return c.fail(outcome, log, fmt.Errorf("%w after %d rounds", errors.ErrRetryExhausted, outcome.Rounds))
}

// resumeCompleted reconstructs the outcome of a unit that reached an
// immutable terminal state in a prior run. Returns nil when the unit
// still needs processing. No port is invoked on this path.
func (c *Coordinator) resumeCompleted(u unit.Unit, log *logging.Logger) *unit.Outcome {
	record, err := c.run.UnitRecordFor(u.ID)
	if err != nil || !record.Completed() {
		return nil
	}

	outcome := &unit.Outcome{
		UnitID:      u.ID,
		Status:      record.Status,
		Rounds:      record.Rounds,
		Err:         record.Error,
		Resumed:     true,
		StartedAt:   record.StartedAt,
		CompletedAt: record.CompletedAt,
	}

	if record.Status == unit.StatusFailed {
		log.Info("unit already failed, skipping", "rounds", record.Rounds)
		c.run.LogEvent(ledger.Event{Type: ledger.EventUnitResumed, UnitID: u.ID})
		c.notify(u.ID, unit.StatusFailed, record.Rounds)
		return outcome
	}

	// Rebuild the winning candidate from the persisted files so callers
	// get the same handoff a fresh completion produces, without touching
	// any port. Unreadable persisted state is corruption, not a retry.
	files, err := c.run.LoadFiles(u.ID)
	if err != nil {
		outcome.Status = unit.StatusFailed
		outcome.Err = err.Error()
		log.Error("persisted files unusable on resume", "error", err)
		c.notify(u.ID, unit.StatusFailed, record.Rounds)
		return outcome
	}
	outcome.Winner = &unit.Attempt{
		UnitID:      u.ID,
		Round:       record.Rounds - 1,
		Index:       record.WinnerIndex,
		Candidate:   &unit.Candidate{Files: files},
		Fingerprint: record.WinnerFingerprint,
		DedupOf:     -1,
		Result:      &unit.VerifyResult{Passed: true},
	}

	log.Info("unit already completed, skipping", "rounds", record.Rounds)
	c.run.LogEvent(ledger.Event{Type: ledger.EventUnitResumed, UnitID: u.ID})
	c.notify(u.ID, unit.StatusDone, record.Rounds)
	return outcome
}

// complete persists the winner, integrates it, and records completion.
// Integration runs before the done mark so an integration failure leaves
// a failed record, never a rewritten terminal one.
func (c *Coordinator) complete(ctx context.Context, outcome *unit.Outcome, u unit.Unit, winner *unit.Attempt, log *logging.Logger) *unit.Outcome {
	if err := c.run.PersistFiles(u.ID, winner.Candidate.Files); err != nil {
		return c.fail(outcome, log, err)
	}

	if c.integrator != nil {
		if err := c.integrator.Integrate(ctx, u, winner.Candidate); err != nil {
			return c.fail(outcome, log, errors.Wrapf(err, "integration failed"))
		}
	}

	outcome.Status = unit.StatusDone
	outcome.Winner = winner
	if c.store != nil {
		outcome.Artifacts = len(c.store.ManifestFor(u.ID))
	}
	if err := c.run.MarkUnitCompleted(outcome); err != nil {
		return c.fail(outcome, log, err)
	}
	c.run.LogEvent(ledger.Event{Type: ledger.EventUnitDone, UnitID: u.ID, Round: winner.Round, Fields: map[string]any{
		"winner_index": winner.Index,
		"fingerprint":  winner.Fingerprint,
		"artifacts":    outcome.Artifacts,
	}})

	log.Info("unit done",
		"rounds", outcome.Rounds,
		"winner_index", winner.Index,
		"artifacts", outcome.Artifacts)
	c.notify(u.ID, unit.StatusDone, winner.Round)
	return outcome
}

func (c *Coordinator) fail(outcome *unit.Outcome, log *logging.Logger, err error) *unit.Outcome {
	outcome.Status = unit.StatusFailed
	outcome.Err = err.Error()
	if markErr := c.run.MarkUnitCompleted(outcome); markErr != nil {
		log.Error("failed to record unit failure", "error", markErr)
	}
	c.run.LogEvent(ledger.Event{Type: ledger.EventUnitFailed, UnitID: outcome.UnitID, Fields: map[string]any{
		"error": outcome.Err,
	}})
	log.Warn("unit failed", "rounds", outcome.Rounds, "error", err)
	c.notify(outcome.UnitID, unit.StatusFailed, outcome.Rounds)
	return outcome
}

func (c *Coordinator) cancel(outcome *unit.Outcome, log *logging.Logger, err error) *unit.Outcome {
	outcome.Status = unit.StatusCancelled
	outcome.Err = err.Error()
	if markErr := c.run.MarkUnitCompleted(outcome); markErr != nil {
		log.Error("failed to record unit cancellation", "error", markErr)
	}
	c.run.LogEvent(ledger.Event{Type: ledger.EventUnitCancelled, UnitID: outcome.UnitID})
	log.Info("unit cancelled", "rounds", outcome.Rounds)
	c.notify(outcome.UnitID, unit.StatusCancelled, outcome.Rounds)
	return outcome
}

func (c *Coordinator) notify(unitID string, status unit.Status, round int) {
	if c.observer != nil {
		c.observer(unitID, status, round)
	}
}

func roundWinner(ro *race.RoundOutcome) int {
	if ro.Winner == nil {
		return -1
	}
	return ro.Winner.Index
}
