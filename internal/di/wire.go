// Package di provides dependency injection wiring and initialization.
package di

import (
	"fmt"

	"github.com/aristath/steward/internal/config"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured
// container. Order of operations:
// 1. Open databases and apply schemas
// 2. Build repositories
// 3. Build services
// 4. Register scheduled jobs
// 5. Register settings listeners and seed an empty universe
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	InitializeRepositories(container, log)
	InitializeServices(container, cfg, log)

	if err := RegisterJobs(container, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	RegisterListeners(container, log)

	if err := container.ImportService.SeedIfEmpty(cfg.SeedFile); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to seed universe: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed")

	return container, nil
}
