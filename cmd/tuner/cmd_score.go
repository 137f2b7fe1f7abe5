package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"alert-tuning-lab/internal/app"
	"alert-tuning-lab/internal/scoring"
)

var scoreCmd = &cobra.Command{
	Use:   "score SYMBOL",
	Short: "Score a feature set under live weights and check the effective gates",
	Long: `Score one feature set with the rule table and the live weight
multipliers, then check it against the effective gating config (live config
plus risk overlay) and the symbol's cooldown/blacklist.

Examples:
  tuner score SOLUSDT --volume-ratio 4.2 --ret-1h 2.5 --rsi 55 --regime 63
  tuner score XYZUSDT --keywords "exchange listing"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			return runScore(ctx, a, strings.ToUpper(args[0]))
		})
	},
}

var (
	scoreFeatures scoring.Features
	scoreKeywords string
)

func init() {
	rootCmd.AddCommand(scoreCmd)

	f := scoreCmd.Flags()
	f.Float64Var(&scoreFeatures.Return1h, "ret-1h", 0, "1h return, percent")
	f.Float64Var(&scoreFeatures.Return24h, "ret-24h", 0, "24h return, percent")
	f.Float64Var(&scoreFeatures.VolumeRatio, "volume-ratio", 1, "Volume vs trailing average")
	f.Float64Var(&scoreFeatures.RSI14, "rsi", 50, "RSI(14)")
	f.Float64Var(&scoreFeatures.RegimeScore, "regime", 50, "Market regime score, 0-100")
	f.Float64Var(&scoreFeatures.FundingRate, "funding", 0, "Perp funding rate, percent")
	f.Float64Var(&scoreFeatures.BreakoutDistPc, "breakout-dist", -1, "Distance above breakout level, percent")
	f.StringVar(&scoreKeywords, "keywords", "", "News headline text")
}

func runScore(ctx context.Context, a *app.App, symbol string) error {
	now := time.Now()
	scoreFeatures.Keywords = strings.Fields(strings.ToLower(scoreKeywords))

	live, effective, st, err := a.LiveConfig(ctx, now)
	if err != nil {
		return err
	}
	b := a.Rules.Score(scoreFeatures, live.Weights)

	fmt.Printf("%s score %.2f (tier %s)\n", symbol, b.Score, b.Confidence)
	for _, name := range scoring.SortedComponents(b.Components) {
		fmt.Printf("  %-16s %+6.2f\n", name, b.Components[name])
	}

	var blocks []string
	if st.Paused(now) {
		blocks = append(blocks, "alerts paused by risk governor")
	}
	if b.Score < float64(effective.Threshold) {
		blocks = append(blocks, fmt.Sprintf("score below threshold %d", effective.Threshold))
	}
	if scoreFeatures.RegimeScore < float64(effective.RegimeFloor) {
		blocks = append(blocks, fmt.Sprintf("regime below floor %d", effective.RegimeFloor))
	}
	if !b.Confidence.Meets(effective.MinConfidence) {
		blocks = append(blocks, fmt.Sprintf("tier below %s", effective.MinConfidence))
	}
	blocked, ctl, err := a.Symbols.Blocked(ctx, symbol, now)
	if err != nil {
		return err
	}
	if blocked {
		blocks = append(blocks, "symbol gated: "+ctl.Reason)
	}

	if len(blocks) == 0 {
		fmt.Printf("would alert (risk %s)\n", st.Mode)
		return nil
	}
	fmt.Printf("suppressed (risk %s):\n", st.Mode)
	for _, s := range blocks {
		fmt.Printf("  - %s\n", s)
	}
	return nil
}
