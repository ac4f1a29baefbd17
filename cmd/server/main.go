// Package main is the entry point for the DCA backtest server.
// The application simulates dollar-cost-averaging trading strategies with
// trailing-stop entries and exits over historical daily bars: single-symbol
// runs, multi-symbol portfolio runs against a shared capital pool, and
// parameter sweeps across worker pools.
//
// The application follows clean architecture principles:
// - Domain layer is pure (no infrastructure dependencies)
// - Dependency injection via DI container
// - Repository pattern for data access
// - Service layer for business logic
// - HTTP handlers for API endpoints
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/config"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/di"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/scheduler"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/server"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/pkg/logger"
)

// main orchestrates the startup sequence:
//  1. Load configuration from environment variables
//  2. Initialize structured logging
//  3. Wire all dependencies via the DI container (databases, repositories,
//     services, HTTP handlers)
//  4. Register background jobs on the cron scheduler
//  5. Start the HTTP server
//  6. Wait for a shutdown signal and stop everything gracefully
//
// The application uses a 2-database architecture:
// - prices.db: Historical daily bars and sync bookkeeping (rewritable bulk data)
// - results.db: Persisted runs and batches (append-only ledger)
func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails so the error is still visible
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Structured logging (zerolog) with configurable level; pretty mode
	// enables human-readable output for development
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting DCA backtest server")

	// Wire all dependencies using the DI container. Credential-gated
	// services (market data sync, off-site archives) stay nil when their
	// credentials are absent; everything else fails the startup.
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing container")
		}
	}()

	// Register background jobs. Each job is gated on the services it
	// needs: no API key means no sync job and no counter to reset, no
	// object storage credentials means no archive job.
	sched := scheduler.New(log)

	if container.SyncService != nil {
		if err := sched.AddJob(cfg.Schedules.PriceSync,
			scheduler.NewPriceSyncJob(container.SyncService, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register price sync job")
		}
	}

	if err := sched.AddJob(cfg.Schedules.DBMaintenance,
		scheduler.NewMaintenanceJob(container.Maintenance, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance job")
	}

	if container.Archive != nil {
		if err := sched.AddJob(cfg.Schedules.ResultsArchive,
			scheduler.NewArchiveJob(container.Archive, container.Maintenance, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register archive job")
		}
	}

	if container.AVClient != nil {
		if err := sched.AddJob(cfg.Schedules.CounterReset,
			scheduler.NewCounterResetJob(container.AVClient, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register counter reset job")
		}
	}

	sched.Start()

	// Initialize the HTTP server. It provides REST endpoints for:
	// - Running simulations (single symbol, portfolio, batch sweeps)
	// - Price data management (list, import, sync, delete)
	// - The persisted run ledger (list, fetch, delete)
	// - System monitoring (status, health, Prometheus metrics)
	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Container: container,
	})

	// Start server in goroutine so main can block on the signal channel
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Block until SIGINT (Ctrl+C) or SIGTERM (kill command)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop the scheduler first; Stop waits for running jobs to finish so a
	// half-done maintenance pass never races the closing databases.
	sched.Stop()

	// Cancel running batch sweeps before taking the HTTP server down, so
	// progress sockets close and in-flight handlers can finish.
	container.BatchHandler.Shutdown()

	// The HTTP server gets up to 10 seconds to finish in-flight requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
