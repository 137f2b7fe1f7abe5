// Package main provides the one-shot operator CLI for the tuning loop.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"alert-tuning-lab/internal/app"
	"alert-tuning-lab/internal/config"
	"alert-tuning-lab/internal/observability"
)

// Global flags
var (
	configPath string
	useMemory  bool
	dryRun     bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "tuner",
	Short: "Adaptive alert tuning and risk governance",
	Long: `tuner runs individual steps of the alert tuning loop against the
configured stores: resolve outcomes, run a tuning pass, inspect symbol gates,
risk mode and cycle playbooks, and score a feature set under live weights.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("TUNING_CONFIG"), "Path to YAML service config")
	rootCmd.PersistentFlags().BoolVar(&useMemory, "use-memory", false, "Use in-memory storage (nothing persists)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Audit and notify but never write the live config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Root, error) {
	return config.Load(configPath, func(c *config.Root) {
		if useMemory {
			c.Storage.UseMemory = true
		}
		if dryRun {
			c.Tuning.DryRun = true
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
	})
}

// withApp loads config, opens stores and builds the app for one command.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	stores, cleanup, err := app.OpenStores(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer cleanup()

	a := app.Build(app.Options{Config: cfg, Stores: stores, Logger: logger})
	defer a.Close()

	return fn(ctx, a)
}

func commandLogger() zerolog.Logger {
	return observability.NewLogger(logLevel, "console", os.Stderr)
}
