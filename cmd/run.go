package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runSourceA string
	runSourceB string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run matching and reconciliation over two catalog snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.Run(ctx, runSourceA, runSourceB)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("run complete",
			zap.String("run_id", result.RunID),
			zap.Int("assigned", result.Summary.Assigned),
			zap.Int("unmatched", result.Summary.Unmatched),
			zap.Int("comparison_rows", result.Summary.ComparisonRows),
			zap.String("report", result.ReportPath),
		)

		// Print result summary JSON to stdout
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Summary)
	},
}

func init() {
	runCmd.Flags().StringVar(&runSourceA, "source-a", "", "platform A catalog snapshot (path or URL, required)")
	runCmd.Flags().StringVar(&runSourceB, "source-b", "", "platform B catalog snapshot (path or URL, required)")
	_ = runCmd.MarkFlagRequired("source-a")
	_ = runCmd.MarkFlagRequired("source-b")
	rootCmd.AddCommand(runCmd)
}
