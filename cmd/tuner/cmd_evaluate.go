package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"alert-tuning-lab/internal/app"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Resolve due outcome horizons once",
	Long: `Run one evaluator pass: fetch current prices for pending alerts,
write every due 1h/4h/24h return, complete finished records and give up on
records older than the maximum age.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), runEvaluate)
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(ctx context.Context, a *app.App) error {
	res, err := a.Evaluator.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	fmt.Printf("scanned:   %d\n", res.Scanned)
	fmt.Printf("horizons:  %d\n", res.HorizonsResolved)
	fmt.Printf("completed: %d\n", res.Completed)
	fmt.Printf("gave up:   %d\n", res.GaveUp)
	fmt.Printf("errored:   %d\n", res.Errored)
	if len(res.Symbols) > 0 {
		fmt.Printf("symbols:   %s\n", strings.Join(res.Symbols, ", "))
	}
	return nil
}
