package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"alert-tuning-lab/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent tuning-run audit entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		entries, err := audit.NewLog(cfg.Paths.AuditLog).Entries()
		if err != nil {
			return err
		}
		if auditLimit > 0 && len(entries) > auditLimit {
			entries = entries[len(entries)-auditLimit:]
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tRUN\tACTION\tTHRESHOLD\tFLOOR\tCONF\tREASONS")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d->%d\t%d->%d\t%s->%s\t%s\n",
				e.Timestamp.Format(time.RFC3339), shortID(e.RunID), e.Action,
				e.Before.Threshold, e.After.Threshold,
				e.Before.RegimeFloor, e.After.RegimeFloor,
				e.Before.MinConfidence, e.After.MinConfidence,
				strings.Join(e.Reasons, "; "))
		}
		return w.Flush()
	},
}

var auditLimit int

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "Most recent entries to show (0 = all)")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
