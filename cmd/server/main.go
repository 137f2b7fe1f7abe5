// Package main provides the long-running service that runs the tuning loop:
// - Evaluator (fast cadence): resolve outcome horizons, recompute symbol gates
// - Tuning (slow cadence): learners → safety gate → audit + notify
// - HTTP: alert ingest, status, controls, live config, Prometheus metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"alert-tuning-lab/internal/app"
	"alert-tuning-lab/internal/config"
	"alert-tuning-lab/internal/configfile"
	"alert-tuning-lab/internal/observability"
)

// Server holds all components of the service.
type Server struct {
	app      *app.App
	registry *prometheus.Registry
	logger   zerolog.Logger

	evaluatorInterval time.Duration
	tuningInterval    time.Duration

	// State
	mu              sync.Mutex
	started         time.Time
	lastEvaluation  time.Time
	lastTuningRun   time.Time
	lastAction      string
	evaluatorActive bool
	tuningActive    bool

	// Stats
	evaluationPasses int
	tuningRuns       int
}

func main() {
	if err := loadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "env: %v\n", err)
		os.Exit(1)
	}

	configPath := flag.String("config", os.Getenv("TUNING_CONFIG"), "Path to YAML service config")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	dryRun := flag.Bool("dry-run", false, "Audit and notify but never write the live config")
	listenAddr := flag.String("listen-addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *useMemory, *dryRun, *listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := app.OpenStores(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create stores")
	}
	defer cleanup()

	metrics, registry := app.NewMetrics()
	a := app.Build(app.Options{Config: cfg, Stores: stores, Logger: logger, Metrics: metrics})
	defer a.Close()

	server := &Server{
		app:               a,
		registry:          registry,
		logger:            logger.With().Str("component", "server").Logger(),
		evaluatorInterval: cfg.Evaluator.Interval(),
		tuningInterval:    cfg.Tuning.Interval(),
		started:           time.Now(),
	}

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		server.logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
		cancel()

		select {
		case sig := <-sigCh:
			server.logger.Warn().Str("signal", sig.String()).Msg("second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			server.logger.Warn().Msg("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go server.serveHTTP(httpSrv)

	err = server.Run(ctx)
	done <- err

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		server.logger.Fatal().Err(err).Msg("server error")
	}

	server.logger.Info().Msg("shutdown complete")
}

func loadConfig(path string, useMemory, dryRun bool, listenAddr string) (config.Root, error) {
	return config.Load(path, func(c *config.Root) {
		if useMemory {
			c.Storage.UseMemory = true
		}
		if dryRun {
			c.Tuning.DryRun = true
		}
		if listenAddr != "" {
			c.Server.ListenAddr = listenAddr
		}
	})
}

// Run starts both schedulers and blocks until ctx is cancelled or one fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("evaluator_interval", s.evaluatorInterval).
		Dur("tuning_interval", s.tuningInterval).
		Bool("dry_run", s.app.Config.Tuning.DryRun).
		Msg("starting tuning service")

	errCh := make(chan error, 2)

	go func() {
		err := s.schedule(ctx, s.evaluatorInterval, s.runEvaluation)
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("evaluator scheduler: %w", err)
		}
	}()

	go func() {
		err := s.schedule(ctx, s.tuningInterval, s.runTuning)
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("tuning scheduler: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// schedule runs fn immediately, then every interval.
func (s *Server) schedule(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Server) runEvaluation(ctx context.Context) {
	s.mu.Lock()
	if s.evaluatorActive {
		s.mu.Unlock()
		s.logger.Warn().Msg("evaluation pass already running, skipping")
		return
	}
	s.evaluatorActive = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.evaluatorActive = false
		s.lastEvaluation = time.Now()
		s.evaluationPasses++
		s.mu.Unlock()
	}()

	if _, err := s.app.Evaluator.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("evaluation pass failed")
	}
}

func (s *Server) runTuning(ctx context.Context) {
	s.mu.Lock()
	if s.tuningActive {
		s.mu.Unlock()
		s.logger.Warn().Msg("tuning run already running, skipping")
		return
	}
	s.tuningActive = true
	s.mu.Unlock()

	action := ""
	defer func() {
		s.mu.Lock()
		s.tuningActive = false
		s.lastTuningRun = time.Now()
		s.tuningRuns++
		if action != "" {
			s.lastAction = action
		}
		s.mu.Unlock()
	}()

	res, err := s.app.Tuning.Run(ctx)
	if res != nil && res.Decision != nil {
		action = res.Decision.Action.String()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("tuning run failed")
	}
}

func (s *Server) serveHTTP(srv *http.Server) {
	s.logger.Info().Str("addr", srv.Addr).Msg("starting HTTP server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error().Err(err).Msg("HTTP server error")
	}
}

// loadEnvFile exports the KEY=VALUE pairs of path that are not already set
// in the environment. A missing file is not an error.
func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	doc := configfile.Parse(data)
	for _, key := range doc.Keys() {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		value, _ := doc.Get(key)
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}
