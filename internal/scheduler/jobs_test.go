package scheduler

import (
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/backup"
	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/advisor"
	"github.com/aristath/steward/internal/modules/features"
	"github.com/aristath/steward/internal/modules/profile"
	"github.com/aristath/steward/internal/modules/ranking"
	"github.com/aristath/steward/internal/modules/screening"
	"github.com/aristath/steward/internal/modules/sentiment"
	"github.com/aristath/steward/internal/modules/settings"
	"github.com/aristath/steward/internal/modules/universe"
)

func openDB(t *testing.T, dir, name string, p database.Profile) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, name+".db"),
		Name:    name,
		Profile: p,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type refreshFixture struct {
	job      *RefreshJob
	scores   *universe.ScoreRepository
	settings *settings.Service

	securities   *universe.SecurityRepository
	fundamentals *universe.FundamentalsRepository
	sentiments   *universe.SentimentRepository
	history      *universe.HistoryDB
}

func setupRefreshJob(t *testing.T) *refreshFixture {
	t.Helper()
	dir := t.TempDir()

	advisoryDB := openDB(t, dir, "advisory", database.ProfileCritical)
	universeDB := openDB(t, dir, "universe", database.ProfileStandard)

	historyConn, err := universe.OpenHistoryDB(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = historyConn.Close() })
	historyDB := universe.NewHistoryDB(historyConn, zerolog.Nop())

	bus := events.NewBus()
	manager := events.NewManager(bus, zerolog.Nop())

	securityRepo := universe.NewSecurityRepository(universeDB.Conn(), zerolog.Nop())
	fundRepo := universe.NewFundamentalsRepository(universeDB.Conn(), zerolog.Nop())
	sentRepo := universe.NewSentimentRepository(universeDB.Conn(), zerolog.Nop())
	scoreRepo := universe.NewScoreRepository(universeDB.Conn(), zerolog.Nop())

	settingsSvc := settings.NewService(settings.NewRepository(advisoryDB.Conn(), zerolog.Nop()), zerolog.Nop())
	sentimentSvc := sentiment.NewService(
		securityRepo, sentRepo, historyDB,
		sentiment.NewRegimeDetector(zerolog.Nop()), manager, zerolog.Nop(),
	)

	job := NewRefreshJob(
		features.NewEngine(securityRepo, fundRepo, sentRepo, historyDB, nil, zerolog.Nop()),
		screening.NewScreener(zerolog.Nop()),
		ranking.NewEngine(scoreRepo, manager, zerolog.Nop()),
		sentimentSvc,
		settingsSvc,
		zerolog.Nop(),
	)

	return &refreshFixture{
		job:          job,
		scores:       scoreRepo,
		settings:     settingsSvc,
		securities:   securityRepo,
		fundamentals: fundRepo,
		sentiments:   sentRepo,
		history:      historyDB,
	}
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

// seedRefreshSecurity inserts an active security with healthy
// fundamentals and 300 days of smooth prices so it survives the screen.
func seedRefreshSecurity(t *testing.T, f *refreshFixture, symbol string, freq, drift float64) {
	t.Helper()

	require.NoError(t, f.securities.Upsert(&universe.Security{
		Symbol: symbol,
		Name:   symbol + " Corp",
		Sector: "Technology",
		Active: true,
	}))
	require.NoError(t, f.fundamentals.Upsert(&universe.Fundamentals{
		Symbol:         symbol,
		AsOf:           "2025-06-30",
		MarketCap:      fptr(8e9),
		PERatio:        fptr(21.0),
		ROE:            fptr(0.16),
		DebtToEquity:   fptr(0.7),
		ProfitMargin:   fptr(0.18),
		EarningsGrowth: fptr(0.11),
		DividendYield:  fptr(0.015),
	}))
	require.NoError(t, f.sentiments.Upsert(&universe.SentimentRecord{
		Symbol:        symbol,
		AsOf:          "2025-06-30",
		AnalystRating: fptr(2.0),
		AnalystCount:  iptr(12),
		NewsScore:     fptr(0.2),
	}))

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	prices := make([]universe.DailyPrice, 0, 300)
	for i := 0; i < 300; i++ {
		px := 100 + 4*math.Sin(freq*float64(i)) + drift*float64(i)
		prices = append(prices, universe.DailyPrice{
			Date:  start.AddDate(0, 0, i).Format("2006-01-02"),
			Open:  px,
			High:  px,
			Low:   px,
			Close: px,
		})
	}
	require.NoError(t, f.history.ImportDailyPrices(symbol, prices))
}

func TestRefreshJob_Run(t *testing.T) {
	f := setupRefreshJob(t)
	assert.Equal(t, "refresh_scores", f.job.Name())

	symbols := []string{"ALPHA", "BRAVO", "CHARL", "DELTA", "ECHO"}
	for i, symbol := range symbols {
		seedRefreshSecurity(t, f, symbol, 0.05+0.03*float64(i), 0.02+0.01*float64(i))
	}

	require.NoError(t, f.job.Run())

	scores, err := f.scores.GetAll()
	require.NoError(t, err)
	require.Len(t, scores, 5)

	top, err := f.scores.GetTopN(1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 1, top[0].Rank)
}

func TestRefreshJob_EmptyUniverse(t *testing.T) {
	f := setupRefreshJob(t)

	require.NoError(t, f.job.Run())

	scores, err := f.scores.GetAll()
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestRefreshJob_UsesTunedCriteria(t *testing.T) {
	f := setupRefreshJob(t)

	symbols := []string{"ALPHA", "BRAVO", "CHARL", "DELTA", "ECHO"}
	for i, symbol := range symbols {
		seedRefreshSecurity(t, f, symbol, 0.05+0.03*float64(i), 0.02+0.01*float64(i))
	}

	// An ROE floor above every holding empties the screen; the run
	// still succeeds with nothing persisted.
	require.NoError(t, f.settings.Set("screen_min_roe", 0.5))
	require.NoError(t, f.job.Run())

	scores, err := f.scores.GetAll()
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestCleanupJob_Run(t *testing.T) {
	dir := t.TempDir()

	advisoryDB := openDB(t, dir, "advisory", database.ProfileCritical)
	cacheDB := openDB(t, dir, "cache", database.ProfileCache)

	cache := database.NewCacheStore(cacheDB.Conn(), zerolog.Nop())
	sessions := advisor.NewSessionRepository(advisoryDB.Conn(), zerolog.Nop())
	profiles := profile.NewRepository(advisoryDB.Conn(), zerolog.Nop())

	require.NoError(t, cache.Set("features", "live", map[string]float64{"pe": 21.0}, time.Hour))
	_, err := cacheDB.Conn().Exec(
		"INSERT INTO calc_cache (namespace, cache_key, payload, created_at, expires_at) VALUES (?, ?, ?, datetime('now'), ?)",
		"features", "stale", []byte("x"), "2020-01-01T00:00:00Z",
	)
	require.NoError(t, err)

	p := &profile.Profile{
		Name:                   "Avery Chen",
		Age:                    38,
		AnnualIncome:           95000,
		MonthlyExpenses:        3200,
		TotalSavings:           150000,
		TotalDebt:              20000,
		InvestmentHorizonYears: 20,
		RiskTolerance:          profile.ToleranceBalanced,
	}
	require.NoError(t, profiles.Create(p))

	stale := &advisor.Session{ProfileID: p.ID, Status: advisor.StatusRunning}
	require.NoError(t, sessions.Create(stale))
	aged := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339)
	_, err = advisoryDB.Conn().Exec("UPDATE sessions SET created_at = ? WHERE id = ?", aged, stale.ID)
	require.NoError(t, err)

	job := NewCleanupJob(cache, sessions, map[string]*sql.DB{
		"advisory": advisoryDB.Conn(),
		"cache":    cacheDB.Conn(),
	}, zerolog.Nop())
	assert.Equal(t, "cleanup", job.Name())

	require.NoError(t, job.Run())

	count, err := cache.Count("features")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := sessions.Get(stale.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, advisor.StatusFailed, got.Status)
}

func TestBackupJob_Run(t *testing.T) {
	dir := t.TempDir()

	advisoryDB := openDB(t, dir, "advisory", database.ProfileCritical)
	universeDB := openDB(t, dir, "universe", database.ProfileStandard)

	settingsSvc := settings.NewService(settings.NewRepository(advisoryDB.Conn(), zerolog.Nop()), zerolog.Nop())

	backupDir := filepath.Join(dir, "backups")
	backups := backup.NewService([]backup.Source{
		{Name: "advisory", DB: advisoryDB.Conn()},
		{Name: "universe", DB: universeDB.Conn()},
	}, backupDir, zerolog.Nop())

	job := NewBackupJob(backups, settingsSvc, zerolog.Nop())
	assert.Equal(t, "backup", job.Name())

	// backup_enabled defaults to true.
	require.NoError(t, job.Run())

	infos, err := backups.ListLocal()
	require.NoError(t, err)
	assert.Len(t, infos, 1)

	// Disabled runs snapshot nothing.
	require.NoError(t, settingsSvc.Set("backup_enabled", false))
	require.NoError(t, job.Run())

	infos, err = backups.ListLocal()
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}
