package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"alert-tuning-lab/internal/app"
	"alert-tuning-lab/internal/gate"
	"alert-tuning-lab/internal/reporting"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one tuning pass",
	Long: `Run the learners over the outcome window and hand their proposal to
the safety gate. Exactly one audit entry and one notification are produced.

Examples:
  tuner run --config tuning.yaml
  tuner run --config tuning.yaml --dry-run --report-dir out/`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), runTuning)
	},
}

var (
	runReportDir string
	runTopN      int
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runReportDir, "report-dir", "", "Write TUNING_<run>.md and grid_<run>.csv here")
	runCmd.Flags().IntVar(&runTopN, "top", 10, "Optimizer combos listed in the report")
}

func runTuning(ctx context.Context, a *app.App) error {
	res, err := a.Tuning.Run(ctx)
	if res != nil && res.Decision != nil {
		fmt.Println(gate.RenderSummary(gate.Input{RunID: res.RunID}, res.Decision))
		for _, e := range res.Errors {
			fmt.Printf("learner: %s\n", e)
		}
	}
	if err != nil {
		return fmt.Errorf("tuning run: %w", err)
	}

	if runReportDir == "" {
		return nil
	}
	if err := os.MkdirAll(runReportDir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	md := reporting.RenderMarkdown(reporting.FromRun(res, runTopN, time.Now()))
	if err := os.WriteFile(filepath.Join(runReportDir, "TUNING_"+res.RunID+".md"), []byte(md), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if res.Optimizer != nil {
		csv := reporting.RenderGridCSV(res.Optimizer.Results)
		if err := os.WriteFile(filepath.Join(runReportDir, "grid_"+res.RunID+".csv"), []byte(csv), 0o644); err != nil {
			return fmt.Errorf("write grid csv: %w", err)
		}
	}
	fmt.Printf("report written to %s\n", runReportDir)
	return nil
}
