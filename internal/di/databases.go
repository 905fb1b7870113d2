package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/steward/internal/config"
	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/modules/universe"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the three managed databases, applies their
// schemas, and opens the history price store.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	advisoryDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "advisory.db"),
		Profile: database.ProfileCritical,
		Name:    "advisory",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize advisory database: %w", err)
	}
	container.AdvisoryDB = advisoryDB

	universeDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "universe.db"),
		Profile: database.ProfileStandard,
		Name:    "universe",
	})
	if err != nil {
		advisoryDB.Close()
		return nil, fmt.Errorf("failed to initialize universe database: %w", err)
	}
	container.UniverseDB = universeDB

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		advisoryDB.Close()
		universeDB.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	container.CacheDB = cacheDB

	for _, db := range []*database.DB{advisoryDB, universeDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	historyConn, err := universe.OpenHistoryDB(filepath.Join(cfg.DataDir, "history.db"))
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}
	container.HistoryConn = historyConn

	log.Info().Str("dir", cfg.DataDir).Msg("All databases initialized and schemas applied")

	return container, nil
}
