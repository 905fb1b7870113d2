package di

import (
	"database/sql"
	"fmt"

	"github.com/aristath/steward/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the scheduler and registers the background jobs
// at their configured schedules. The backup job is only registered when
// the backup service was constructed.
func RegisterJobs(c *Container, log zerolog.Logger) error {
	c.Scheduler = scheduler.New(c.EventManager, log)

	refresh := scheduler.NewRefreshJob(
		c.FeatureEngine, c.Screener, c.RankingEngine, c.SentimentService, c.SettingsService, log)
	if err := c.Scheduler.AddJob(c.SettingsService.GetString("schedule_refresh"), refresh); err != nil {
		return fmt.Errorf("failed to register refresh job: %w", err)
	}

	cleanup := scheduler.NewCleanupJob(c.CacheStore, c.SessionRepo, map[string]*sql.DB{
		"advisory": c.AdvisoryDB.Conn(),
		"universe": c.UniverseDB.Conn(),
		"cache":    c.CacheDB.Conn(),
		"history":  c.HistoryConn,
	}, log)
	if err := c.Scheduler.AddJob(c.SettingsService.GetString("schedule_cleanup"), cleanup); err != nil {
		return fmt.Errorf("failed to register cleanup job: %w", err)
	}

	if c.BackupService != nil {
		backupJob := scheduler.NewBackupJob(c.BackupService, c.SettingsService, log)
		if err := c.Scheduler.AddJob(c.SettingsService.GetString("schedule_backup"), backupJob); err != nil {
			return fmt.Errorf("failed to register backup job: %w", err)
		}
	}

	return nil
}
