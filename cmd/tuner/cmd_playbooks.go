package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"alert-tuning-lab/internal/app"
	"alert-tuning-lab/internal/cycle"
	"alert-tuning-lab/internal/domain"
)

var playbooksCmd = &cobra.Command{
	Use:   "playbooks",
	Short: "Show the current cycle phase and per-phase exit playbooks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), runPlaybooks)
	},
}

func init() {
	rootCmd.AddCommand(playbooksCmd)
}

func runPlaybooks(ctx context.Context, a *app.App) error {
	phase, err := a.Ledger.CurrentPhase(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("current phase: %s\n\n", phase)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tSL%\tTP1%\tTP2%\tTRAIL%\tMAX HOLD\tWIN%\tN\tLEARNED")
	for _, p := range domain.Phases {
		pb, err := cycle.Current(ctx, a.Stores.Playbooks, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%dh\t%.1f\t%d\t%t\n",
			p, pb.StopLossPct, pb.TP1Pct, pb.TP2Pct, pb.TrailingPct, pb.MaxHoldHours, pb.WinRate, pb.SampleSize, pb.Learned)
	}
	return w.Flush()
}
