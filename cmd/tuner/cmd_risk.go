package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"alert-tuning-lab/internal/app"
)

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Show risk mode and the effective gating config",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), runRisk)
	},
}

func init() {
	rootCmd.AddCommand(riskCmd)
}

func runRisk(ctx context.Context, a *app.App) error {
	now := time.Now()
	live, effective, st, err := a.LiveConfig(ctx, now)
	if err != nil {
		return err
	}
	adj := st.Mode.Adjustment()

	fmt.Printf("mode:      %s (streak %d)\n", st.Mode, st.Streak)
	if st.Paused(now) {
		fmt.Printf("paused:    until %s\n", st.PausedUntil.UTC().Format(time.RFC3339))
	}
	fmt.Printf("overlay:   threshold +%d, size x%.2f, min confidence %s\n", adj.ThresholdDelta, adj.SizeMultiplier, adj.MinConfidence)
	fmt.Printf("threshold: %d -> %d\n", live.Threshold, effective.Threshold)
	fmt.Printf("floor:     %d\n", effective.RegimeFloor)
	fmt.Printf("min conf:  %s -> %s\n", live.MinConfidence, effective.MinConfidence)
	return nil
}
