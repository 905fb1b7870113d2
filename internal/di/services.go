package di

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/aristath/steward/internal/backup"
	"github.com/aristath/steward/internal/config"
	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/advisor"
	"github.com/aristath/steward/internal/modules/features"
	"github.com/aristath/steward/internal/modules/optimization"
	"github.com/aristath/steward/internal/modules/ranking"
	"github.com/aristath/steward/internal/modules/reports"
	"github.com/aristath/steward/internal/modules/risk"
	"github.com/aristath/steward/internal/modules/screening"
	"github.com/aristath/steward/internal/modules/sentiment"
	"github.com/aristath/steward/internal/modules/settings"
	"github.com/aristath/steward/internal/modules/universe"
	"github.com/rs/zerolog"
)

// InitializeServices builds the business layer. Environment derived
// defaults apply first; a persisted setting overrides its default when
// one exists.
func InitializeServices(c *Container, cfg *config.Config, log zerolog.Logger) {
	c.EventBus = events.NewBus()
	c.EventManager = events.NewManager(c.EventBus, log)

	c.SettingsService = settings.NewService(c.SettingsRepo, log)

	c.Screener = screening.NewScreener(log)
	c.FeatureEngine = features.NewEngine(
		c.SecurityRepo, c.FundamentalsRepo, c.SentimentRepo, c.HistoryDB, c.CacheStore, log)

	c.RankingEngine = ranking.NewEngine(c.ScoreRepo, c.EventManager, log)
	c.RankingEngine.SetMarketAvgPE(persistedFloat(c.SettingsRepo, "market_avg_pe", cfg.MarketAvgPE))

	c.SentimentService = sentiment.NewService(
		c.SecurityRepo, c.SentimentRepo, c.HistoryDB, sentiment.NewRegimeDetector(log), c.EventManager, log)

	c.RiskModelBuilder = optimization.NewRiskModelBuilder(c.HistoryDB, log)
	c.ReturnsEstimator = optimization.NewReturnsEstimator(c.HistoryDB, c.ScoreRepo, log)
	c.ReturnsEstimator.SetTargetReturn(persistedFloat(c.SettingsRepo, "target_annual_return", cfg.TargetAnnualReturn))
	c.Solver = optimization.NewSolver(log)
	c.OptimizerService = optimization.NewService(
		c.RiskModelBuilder, c.ReturnsEstimator, c.Solver, c.SecurityRepo, c.SentimentService, log)

	c.RiskService = risk.NewService(c.RiskModelBuilder, c.HistoryDB, c.SecurityRepo, log)
	c.RiskService.SetRiskFreeRate(persistedFloat(c.SettingsRepo, "risk_free_rate", cfg.RiskFreeRate))

	c.Composer = reports.NewComposer(log)

	c.ImportService = universe.NewImportService(
		c.SecurityRepo, c.FundamentalsRepo, c.SentimentRepo, c.HistoryDB,
		universe.NewPriceValidator(log), c.EventManager, log)

	c.AdvisorService = advisor.NewService(advisor.Deps{
		Sessions:        c.SessionRepo,
		Recommendations: c.RecommendationRepo,
		Profiles:        c.ProfileRepo,
		Features:        c.FeatureEngine,
		Screener:        c.Screener,
		Ranking:         c.RankingEngine,
		Optimizer:       c.OptimizerService,
		Risk:            c.RiskService,
		Composer:        c.Composer,
		Reports:         c.ReportRepo,
		Sentiment:       c.SentimentService,
		Events:          c.EventManager,
	}, log)

	initializeBackup(c, cfg, log)
}

// initializeBackup constructs the backup service when enabled. The S3
// uploader is attached only when a bucket is configured; a client error
// degrades to local backups instead of failing the boot.
func initializeBackup(c *Container, cfg *config.Config, log zerolog.Logger) {
	if cfg.Backup == nil || !cfg.Backup.Enabled {
		log.Info().Msg("Backups disabled by configuration")
		return
	}

	dir := cfg.Backup.LocalDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(cfg.DataDir, dir)
	}

	// cache.db is recomputable and stays out of the archive.
	sources := []backup.Source{
		{Name: "advisory", DB: c.AdvisoryDB.Conn()},
		{Name: "universe", DB: c.UniverseDB.Conn()},
		{Name: "history", DB: c.HistoryConn},
	}
	c.BackupService = backup.NewService(sources, dir, log)

	if cfg.Backup.S3Bucket == "" {
		return
	}
	client, err := backup.NewS3Client(context.Background(), backup.S3Config{
		Region:          cfg.Backup.S3Region,
		Bucket:          cfg.Backup.S3Bucket,
		Endpoint:        cfg.Backup.S3Endpoint,
		AccessKeyID:     cfg.Backup.S3AccessKeyID,
		SecretAccessKey: cfg.Backup.S3SecretAccessKey,
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("S3 backup client unavailable, keeping local backups only")
		return
	}
	c.BackupService.SetUploader(client)
}

// persistedFloat returns the stored setting when present and numeric,
// the fallback otherwise.
func persistedFloat(repo *settings.Repository, key string, fallback float64) float64 {
	raw, err := repo.Get(key)
	if err != nil || raw == nil {
		return fallback
	}
	v, err := strconv.ParseFloat(*raw, 64)
	if err != nil {
		return fallback
	}
	return v
}
