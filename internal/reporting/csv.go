package reporting

import (
	"fmt"
	"strings"

	"alert-tuning-lab/internal/domain"
)

// RenderGridCSV renders optimizer grid results as CSV string, in the order given.
func RenderGridCSV(results []domain.GridResult) string {
	var sb strings.Builder

	// Header
	sb.WriteString("run_id,threshold,regime_floor,min_confidence,sample_size,")
	sb.WriteString("avg_return,win_rate,drawdown,objective,skipped,selected\n")

	// Rows
	for _, g := range results {
		sb.WriteString(fmt.Sprintf("%s,%d,%d,%s,%d,%.6f,%.6f,%.6f,%.6f,%t,%t\n",
			g.RunID,
			g.Threshold,
			g.RegimeFloor,
			g.MinConfidence,
			g.SampleSize,
			g.AvgReturn,
			g.WinRate,
			g.Drawdown,
			g.Objective,
			g.Skipped,
			g.Selected,
		))
	}

	return sb.String()
}
