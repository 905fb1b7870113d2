package di

import (
	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/modules/advisor"
	"github.com/aristath/steward/internal/modules/profile"
	"github.com/aristath/steward/internal/modules/reports"
	"github.com/aristath/steward/internal/modules/settings"
	"github.com/aristath/steward/internal/modules/universe"
	"github.com/rs/zerolog"
)

// InitializeRepositories builds the data access layer on the open
// database handles.
func InitializeRepositories(c *Container, log zerolog.Logger) {
	universeConn := c.UniverseDB.Conn()
	advisoryConn := c.AdvisoryDB.Conn()

	c.SecurityRepo = universe.NewSecurityRepository(universeConn, log)
	c.FundamentalsRepo = universe.NewFundamentalsRepository(universeConn, log)
	c.SentimentRepo = universe.NewSentimentRepository(universeConn, log)
	c.ScoreRepo = universe.NewScoreRepository(universeConn, log)
	c.HistoryDB = universe.NewHistoryDB(c.HistoryConn, log)

	c.ProfileRepo = profile.NewRepository(advisoryConn, log)
	c.SessionRepo = advisor.NewSessionRepository(advisoryConn, log)
	c.RecommendationRepo = advisor.NewRecommendationRepository(advisoryConn, log)
	c.ReportRepo = reports.NewRepository(advisoryConn, log)
	c.SettingsRepo = settings.NewRepository(advisoryConn, log)

	c.CacheStore = database.NewCacheStore(c.CacheDB.Conn(), log)
}
