package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loomlang/loom/internal/artifact"
	"github.com/loomlang/loom/internal/config"
	"github.com/loomlang/loom/internal/coordinator"
	"github.com/loomlang/loom/internal/errors"
	"github.com/loomlang/loom/internal/ledger"
	"github.com/loomlang/loom/internal/logging"
	"github.com/loomlang/loom/internal/port"
	"github.com/loomlang/loom/internal/race"
	"github.com/loomlang/loom/internal/tui"
	"github.com/loomlang/loom/internal/unit"
)

var runFlags struct {
	unitsFile    string
	runID        string
	unitPatterns []string
	showProgress bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process units through the conversion pipeline",
	Long: `Run starts a fresh conversion run: every unit in the units file is
driven through generate, verify, refine rounds until it succeeds, fails,
or the retry budget is exhausted. Progress is persisted under the run
directory so an interrupted run can be resumed with "loom resume".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executePipeline(runFlags.runID, false)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runFlags.unitsFile, "units-file", "f", "units.yaml", "YAML file listing the units to convert")
	runCmd.Flags().StringVar(&runFlags.runID, "run-id", "", "run id (generated when empty)")
	runCmd.Flags().StringSliceVarP(&runFlags.unitPatterns, "units", "u", nil, "glob patterns selecting unit ids to process")
	runCmd.Flags().BoolVar(&runFlags.showProgress, "progress", false, "show a live progress view")
}

// executePipeline is the shared body of the run and resume commands.
func executePipeline(runID string, resume bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	units, err := loadUnitsFile(runFlags.unitsFile)
	if err != nil {
		return err
	}
	units, err = filterUnits(units, runFlags.unitPatterns)
	if err != nil {
		return err
	}

	led, err := ledger.NewLedger(cfg.Run.Root, nil)
	if err != nil {
		return err
	}

	var run *ledger.Run
	if resume {
		run, err = led.Resume(runID)
	} else {
		run, err = led.Start(runID)
	}
	if err != nil {
		return err
	}
	defer run.Close()

	logger, err := logging.NewLogger(run.Dir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Close()
	logger = logger.WithRun(run.ID)

	if resume {
		logger.Info("resuming run", "completed_units", len(run.CompletedUnits()))
	}

	outcomes, err := runUnits(cfg, run, logger, units)
	if err != nil {
		return err
	}

	fmt.Println(renderSummary(run.ID, outcomes))
	return exitStatus(outcomes)
}

// runUnits wires the ports, store, and coordinator, and drives all units
// to terminal states under signal-driven cancellation.
func runUnits(cfg *config.Config, run *ledger.Run, logger *logging.Logger, units []unit.Unit) ([]*unit.Outcome, error) {
	generator, err := port.DefaultRegistry.NewGenerator(cfg.Generator.Name, cfg.Generator.Options)
	if err != nil {
		return nil, err
	}
	verifier, err := port.DefaultRegistry.NewVerifier(cfg.Verifier.Name, cfg.Verifier.Options)
	if err != nil {
		return nil, err
	}

	store, err := artifact.NewStore(run.Dir)
	if err != nil {
		return nil, err
	}

	racer := race.NewRacer(generator, verifier, store, logger)
	coord := coordinator.New(coordinator.Options{
		MaxRetries:     cfg.Pipeline.MaxRetries,
		Workers:        cfg.Pipeline.ParallelWorkers,
		RoundTimeout:   cfg.Pipeline.RoundTimeout(),
		PreserveStages: cfg.Pipeline.PreserveStages,
		Concurrency:    cfg.Run.Concurrency,
	}, racer, nil, store, run, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var view *tui.View
	if runFlags.showProgress {
		view = tui.Start(units)
		coord.SetObserver(view.Observer())
	}

	outcomes, runErr := coord.RunAll(ctx, units)
	if view != nil {
		view.Finish()
	}
	if runErr != nil && !errors.IsCancelled(runErr) {
		return outcomes, runErr
	}
	return outcomes, nil
}

// exitStatus converts outcomes into the command's exit error.
func exitStatus(outcomes []*unit.Outcome) error {
	var failed, cancelled int
	for _, o := range outcomes {
		switch o.Status {
		case unit.StatusFailed:
			failed++
		case unit.StatusCancelled:
			cancelled++
		}
	}
	if cancelled > 0 {
		return fmt.Errorf("%w: %d unit(s) cancelled", errors.ErrCancelled, cancelled)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d unit(s) failed", failed, len(outcomes))
	}
	return nil
}
