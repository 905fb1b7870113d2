package di

import (
	"database/sql"

	"github.com/aristath/steward/internal/backup"
	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/advisor"
	"github.com/aristath/steward/internal/modules/features"
	"github.com/aristath/steward/internal/modules/optimization"
	"github.com/aristath/steward/internal/modules/profile"
	"github.com/aristath/steward/internal/modules/ranking"
	"github.com/aristath/steward/internal/modules/reports"
	"github.com/aristath/steward/internal/modules/risk"
	"github.com/aristath/steward/internal/modules/screening"
	"github.com/aristath/steward/internal/modules/sentiment"
	"github.com/aristath/steward/internal/modules/settings"
	"github.com/aristath/steward/internal/modules/universe"
	"github.com/aristath/steward/internal/scheduler"
)

// Container holds every shared instance. Wire() builds it in dependency
// order and the server reads from it when constructing handlers.
type Container struct {
	// Databases. Advisory carries user data and must survive anything,
	// universe holds imported market data, cache holds derived values.
	// History is a plain connection because the price store manages its
	// own schema and driver.
	AdvisoryDB  *database.DB
	UniverseDB  *database.DB
	CacheDB     *database.DB
	HistoryConn *sql.DB

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Repositories
	SecurityRepo       *universe.SecurityRepository
	FundamentalsRepo   *universe.FundamentalsRepository
	SentimentRepo      *universe.SentimentRepository
	ScoreRepo          *universe.ScoreRepository
	HistoryDB          *universe.HistoryDB
	ProfileRepo        *profile.Repository
	SessionRepo        *advisor.SessionRepository
	RecommendationRepo *advisor.RecommendationRepository
	ReportRepo         *reports.Repository
	SettingsRepo       *settings.Repository
	CacheStore         *database.CacheStore

	// Services
	SettingsService  *settings.Service
	Screener         *screening.Screener
	FeatureEngine    *features.Engine
	RankingEngine    *ranking.Engine
	SentimentService *sentiment.Service
	RiskModelBuilder *optimization.RiskModelBuilder
	ReturnsEstimator *optimization.ReturnsEstimator
	Solver           *optimization.Solver
	OptimizerService *optimization.Service
	RiskService      *risk.Service
	Composer         *reports.Composer
	ImportService    *universe.ImportService
	AdvisorService   *advisor.Service

	// BackupService is nil when backups are disabled by configuration.
	BackupService *backup.Service

	// Scheduler owns the background jobs. The server starts and stops it.
	Scheduler *scheduler.Scheduler
}

// ManagedDatabases lists the schema-managed handles, for monitoring.
// history.db is not included; its store owns a plain connection.
func (c *Container) ManagedDatabases() []*database.DB {
	return []*database.DB{c.AdvisoryDB, c.UniverseDB, c.CacheDB}
}

// Close releases the database handles. Safe on a partially built
// container; Wire uses it on its error paths.
func (c *Container) Close() {
	if c.HistoryConn != nil {
		_ = c.HistoryConn.Close()
	}
	if c.CacheDB != nil {
		_ = c.CacheDB.Close()
	}
	if c.UniverseDB != nil {
		_ = c.UniverseDB.Close()
	}
	if c.AdvisoryDB != nil {
		_ = c.AdvisoryDB.Close()
	}
}
