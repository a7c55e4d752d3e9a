package cmd

import (
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume an interrupted run",
	Long: `Resume reopens an existing run and continues processing. Units that
already completed are skipped without invoking any generation or
verification backend; everything else runs as usual. A run whose
persisted state is unreadable refuses to resume rather than silently
starting over.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return executePipeline(args[0], true)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().StringVarP(&runFlags.unitsFile, "units-file", "f", "units.yaml", "YAML file listing the units to convert")
	resumeCmd.Flags().StringSliceVarP(&runFlags.unitPatterns, "units", "u", nil, "glob patterns selecting unit ids to process")
	resumeCmd.Flags().BoolVar(&runFlags.showProgress, "progress", false, "show a live progress view")
}
