package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomlang/loom/internal/ledger"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run progress",
	Long: `Status lists the runs under the configured run root, or with a run id,
shows that run's per-unit progress and summary. Reads ledger files
directly and never takes the run lock, so it is safe while a run is in
flight.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		led, err := ledger.NewLedger(cfg.Run.Root, nil)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			records, err := led.ListRuns()
			if err != nil {
				return err
			}
			fmt.Println(renderRunList(records))
			return nil
		}

		record, units, summary, err := led.InspectRun(args[0])
		if err != nil {
			return err
		}
		lock, active := ledger.IsLocked(led.RunDir(args[0]))
		if !active {
			lock = nil
		}
		fmt.Println(renderRunStatus(record, units, summary, lock))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
