package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"alert-tuning-lab/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply Postgres (and ClickHouse, if configured) schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Storage.UseMemory {
			return fmt.Errorf("migrate needs postgres_dsn; --use-memory has no schema")
		}

		_, cleanup, err := app.OpenStores(cmd.Context(), cfg.Storage)
		if err != nil {
			return err
		}
		defer cleanup()

		logger := commandLogger()
		logger.Info().Bool("clickhouse", cfg.Storage.ClickhouseDSN != "").Msg("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
