package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/backup"
	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/modules/advisor"
	"github.com/aristath/steward/internal/modules/features"
	"github.com/aristath/steward/internal/modules/ranking"
	"github.com/aristath/steward/internal/modules/screening"
	"github.com/aristath/steward/internal/modules/sentiment"
	"github.com/aristath/steward/internal/modules/settings"
)

// staleSessionAge is how long a pending or running session may sit
// before the cleanup job declares it abandoned.
const staleSessionAge = 24 * time.Hour

// walFrameWarnThreshold is the WAL size, in frames, past which the
// cleanup job warns that passive checkpoints are not keeping up.
const walFrameWarnThreshold = 1000

// RefreshJob recomputes features for the active universe, screens and
// ranks it with the tunable criteria and weights, and persists fresh
// scores. Runs nightly so ad-hoc ranking reads stay warm.
type RefreshJob struct {
	features  *features.Engine
	screener  *screening.Screener
	ranking   *ranking.Engine
	sentiment *sentiment.Service
	settings  *settings.Service
	log       zerolog.Logger
}

// NewRefreshJob creates the nightly score refresh job.
func NewRefreshJob(
	featureEngine *features.Engine,
	screener *screening.Screener,
	rankingEngine *ranking.Engine,
	sentimentSvc *sentiment.Service,
	settingsSvc *settings.Service,
	log zerolog.Logger,
) *RefreshJob {
	return &RefreshJob{
		features:  featureEngine,
		screener:  screener,
		ranking:   rankingEngine,
		sentiment: sentimentSvc,
		settings:  settingsSvc,
		log:       log.With().Str("job", "refresh_scores").Logger(),
	}
}

// Name returns the job name.
func (j *RefreshJob) Name() string { return "refresh_scores" }

// Run executes the refresh. An empty universe or an empty screen is
// not an error, the job just has nothing to persist.
func (j *RefreshJob) Run() error {
	ctx := context.Background()

	vectors, err := j.features.ComputeUniverse(ctx, nil)
	if err != nil {
		return fmt.Errorf("feature computation failed: %w", err)
	}
	if len(vectors) == 0 {
		j.log.Info().Msg("Universe is empty, nothing to refresh")
		return nil
	}

	result := j.screener.Screen(vectors, j.settings.Criteria())
	if len(result.Candidates) == 0 {
		j.log.Warn().Int("rejected", len(result.Rejected)).Msg("Screen rejected the whole universe")
		return nil
	}

	regime := sentiment.RegimeSideways
	if snapshot, err := j.sentiment.CurrentRegime(0); err == nil {
		regime = snapshot.Regime
	} else {
		j.log.Warn().Err(err).Msg("Regime detection failed, assuming sideways")
	}

	ranked, err := j.ranking.Rank(result.Candidates, j.settings.RankingWeights(), regime)
	if err != nil {
		return fmt.Errorf("ranking failed: %w", err)
	}

	j.log.Info().
		Int("scored", len(ranked)).
		Int("screened_out", len(result.Rejected)).
		Str("regime", string(regime)).
		Msg("Universe scores refreshed")
	return nil
}

// CleanupJob sweeps recomputable state: expired cache rows, advisory
// sessions abandoned mid-run, and a passive WAL checkpoint across the
// databases.
type CleanupJob struct {
	cache     *database.CacheStore
	sessions  *advisor.SessionRepository
	databases map[string]*sql.DB
	log       zerolog.Logger
}

// NewCleanupJob creates the hourly cleanup job. The databases map
// names each connection for checkpoint logging.
func NewCleanupJob(
	cache *database.CacheStore,
	sessions *advisor.SessionRepository,
	databases map[string]*sql.DB,
	log zerolog.Logger,
) *CleanupJob {
	return &CleanupJob{
		cache:     cache,
		sessions:  sessions,
		databases: databases,
		log:       log.With().Str("job", "cleanup").Logger(),
	}
}

// Name returns the job name.
func (j *CleanupJob) Name() string { return "cleanup" }

// Run executes the cleanup sweep.
func (j *CleanupJob) Run() error {
	purged, err := j.cache.PurgeExpired()
	if err != nil {
		return fmt.Errorf("cache purge failed: %w", err)
	}

	failed, err := j.sessions.FailStale(staleSessionAge)
	if err != nil {
		return fmt.Errorf("stale session sweep failed: %w", err)
	}

	checked := j.checkpointDatabases()

	j.log.Info().
		Int64("cache_purged", purged).
		Int64("sessions_failed", failed).
		Int("databases_checkpointed", checked).
		Msg("Cleanup completed")
	return nil
}

// checkpointDatabases runs a passive WAL checkpoint on every database.
// PRAGMA wal_checkpoint returns busy, log frames and checkpointed
// frames; a large frame count means checkpoints are falling behind.
func (j *CleanupJob) checkpointDatabases() int {
	checked := 0
	for name, db := range j.databases {
		if db == nil {
			continue
		}

		var busy, frames, checkpointed int
		err := db.QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
		if err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("Failed to checkpoint WAL")
			continue
		}

		if frames > walFrameWarnThreshold {
			j.log.Warn().
				Str("database", name).
				Int("wal_frames", frames).
				Int("checkpointed", checkpointed).
				Msg("WAL file is large, checkpoint may be needed")
		}
		checked++
	}
	return checked
}

// BackupJob snapshots the databases on the backup schedule. Toggles
// and retention are read from settings at run time so changes apply
// without re-registering the job.
type BackupJob struct {
	backups  *backup.Service
	settings *settings.Service
	log      zerolog.Logger
}

// NewBackupJob creates the scheduled backup job.
func NewBackupJob(backups *backup.Service, settingsSvc *settings.Service, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backups:  backups,
		settings: settingsSvc,
		log:      log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name.
func (j *BackupJob) Name() string { return "backup" }

// Run executes a backup cycle unless backups are disabled.
func (j *BackupJob) Run() error {
	if !j.settings.GetBool("backup_enabled") {
		j.log.Info().Msg("Backups disabled, skipping")
		return nil
	}

	archive, err := j.backups.Run(context.Background(), backup.RunOptions{
		Upload:        j.settings.GetBool("backup_s3_enabled"),
		RetentionDays: j.settings.GetInt("backup_retention_days"),
	})
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	j.log.Info().
		Str("archive", archive.Name).
		Int64("size_bytes", archive.SizeBytes).
		Msg("Backup completed")
	return nil
}
