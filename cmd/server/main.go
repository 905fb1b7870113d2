// Package main is the entry point for the Steward self-hosted investment
// advisor. The service maintains an investment universe, derives per-security
// features and scores, and turns an investor profile into a concrete
// portfolio recommendation through screening, ranking and optimization.
//
// Startup sequence:
//  1. Load configuration from environment variables (.env supported)
//  2. Initialize structured logging
//  3. Wire databases, repositories, services and scheduled jobs via the DI container
//  4. Start the cron scheduler and the HTTP server
//  5. Wait for SIGINT/SIGTERM and shut down gracefully
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/steward/internal/config"
	"github.com/aristath/steward/internal/di"
	"github.com/aristath/steward/internal/server"
	"github.com/aristath/steward/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Steward")

	// Wire all dependencies using the DI container. This opens the four
	// databases, applies migrations, builds repositories and services,
	// registers scheduled jobs and seeds an empty universe.
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		DataDir:   cfg.DataDir,
		Container: container,
	})

	// The scheduler runs the refresh, cleanup and backup jobs on their
	// cron schedules. Schedules are persisted in settings and can be
	// changed at runtime through the settings API.
	container.Scheduler.Start()

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop the scheduler first so no job starts mid-shutdown; Stop waits
	// for in-flight jobs to finish.
	container.Scheduler.Stop()

	// Give the HTTP server up to 10 seconds to drain in-flight requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
