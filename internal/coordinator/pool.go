package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loomlang/loom/internal/errors"
	"github.com/loomlang/loom/internal/ledger"
	"github.com/loomlang/loom/internal/unit"
)

// RunAll processes units with bounded concurrency and writes the run
// summary when every unit has reached a terminal state. Units are
// independent: one unit failing never affects another. Cancellation
// stops scheduling new units and cancels in-flight ones; outcomes are
// still recorded for everything that started.
func (c *Coordinator) RunAll(ctx context.Context, units []unit.Unit) ([]*unit.Outcome, error) {
	if err := validateUnits(units); err != nil {
		return nil, err
	}

	outcomes := make([]*unit.Outcome, len(units))
	var mu sync.Mutex

	g := &errgroup.Group{}
	g.SetLimit(c.opts.Concurrency)
	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			// Cancelled before starting: record the skip so the summary
			// accounts for every unit.
			if err := ctx.Err(); err != nil {
				mu.Lock()
				outcomes[i] = &unit.Outcome{
					UnitID: u.ID,
					Status: unit.StatusCancelled,
					Err:    err.Error(),
				}
				mu.Unlock()
				return nil
			}
			outcome := c.RunUnit(ctx, u)
			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; failures live in the outcomes.
	_ = g.Wait()

	summary := buildSummary(outcomes)
	if err := c.run.WriteSummary(summary); err != nil {
		return outcomes, err
	}

	c.logger.Info("run finished",
		"total", summary.TotalUnits,
		"done", summary.Done,
		"failed", summary.Failed,
		"cancelled", summary.Cancelled,
		"resumed", summary.Resumed)

	if err := ctx.Err(); err != nil {
		return outcomes, fmt.Errorf("%w: %v", errors.ErrCancelled, err)
	}
	return outcomes, nil
}

// validateUnits rejects empty input and duplicate unit ids up front.
func validateUnits(units []unit.Unit) error {
	if len(units) == 0 {
		return fmt.Errorf("%w: no units to process", errors.ErrInvalidInput)
	}
	seen := make(map[string]bool, len(units))
	for _, u := range units {
		if u.ID == "" {
			return fmt.Errorf("%w: unit with empty id", errors.ErrInvalidInput)
		}
		if seen[u.ID] {
			return fmt.Errorf("%w: duplicate unit id %q", errors.ErrInvalidInput, u.ID)
		}
		seen[u.ID] = true
	}
	return nil
}

// buildSummary aggregates terminal outcomes into the run summary.
func buildSummary(outcomes []*unit.Outcome) *ledger.Summary {
	summary := &ledger.Summary{}
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		summary.TotalUnits++
		if o.Resumed {
			summary.Resumed++
		}
		switch o.Status {
		case unit.StatusDone:
			summary.Done++
		case unit.StatusCancelled:
			summary.Cancelled++
		default:
			summary.Failed++
		}
		summary.Units = append(summary.Units, ledger.UnitSummary{
			UnitID:    o.UnitID,
			Status:    o.Status,
			Rounds:    o.Rounds,
			Resumed:   o.Resumed,
			Error:     o.Err,
			Artifacts: o.Artifacts,
			ElapsedMS: o.Elapsed().Milliseconds(),
		})
	}
	sort.Slice(summary.Units, func(i, j int) bool {
		return summary.Units[i].UnitID < summary.Units[j].UnitID
	})
	return summary
}
