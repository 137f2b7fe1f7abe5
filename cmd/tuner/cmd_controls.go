package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"alert-tuning-lab/internal/app"
)

var controlsCmd = &cobra.Command{
	Use:   "controls [symbol...]",
	Short: "List active symbol gates, or recompute given symbols",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			return runControls(ctx, a, args)
		})
	},
}

var controlsCleanup bool

func init() {
	rootCmd.AddCommand(controlsCmd)
	controlsCmd.Flags().BoolVar(&controlsCleanup, "cleanup", false, "Delete expired gates first")
}

func runControls(ctx context.Context, a *app.App, symbols []string) error {
	now := time.Now()

	if controlsCleanup {
		n, err := a.Symbols.Cleanup(ctx, now)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d expired gates\n", n)
	}

	for _, s := range symbols {
		if _, err := a.Symbols.Recompute(ctx, strings.ToUpper(s), now); err != nil {
			return fmt.Errorf("recompute %s: %w", s, err)
		}
	}

	active, err := a.Symbols.Active(ctx, now)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		fmt.Println("no active symbol gates")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tCOOLDOWN UNTIL\tBLACKLIST UNTIL\tREASON")
	for _, c := range active {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Symbol, fmtUntil(c.CooldownUntil, now), fmtUntil(c.BlacklistUntil, now), c.Reason)
	}
	return w.Flush()
}

func fmtUntil(t *time.Time, now time.Time) string {
	if t == nil || !now.Before(*t) {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
