package universe

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/steward/internal/database"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupUniverseDB creates a migrated universe database backed by a temp file.
func setupUniverseDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "universe.db"),
		Name:    "universe",
		Profile: database.ProfileStandard,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	t.Cleanup(func() { _ = db.Close() })
	return db.Conn()
}

func floatPtr(v float64) *float64 { return &v }

func TestSecurityRepository_UpsertAndGet(t *testing.T) {
	repo := NewSecurityRepository(setupUniverseDB(t), zerolog.Nop())

	synced := time.Now().Unix()
	err := repo.Upsert(&Security{
		Symbol:     "  aapl ",
		Name:       "Apple Inc.",
		Sector:     "Technology",
		Industry:   "Consumer Electronics",
		Exchange:   "NASDAQ",
		ISIN:       "us0378331005",
		Active:     true,
		Tags:       []string{"mega-cap", ""},
		LastSynced: &synced,
	})
	require.NoError(t, err)

	sec, err := repo.GetBySymbol("aapl")
	require.NoError(t, err)
	require.NotNil(t, sec)

	assert.Equal(t, "AAPL", sec.Symbol)
	assert.Equal(t, "Apple Inc.", sec.Name)
	assert.Equal(t, "US0378331005", sec.ISIN)
	assert.Equal(t, "USD", sec.Currency, "currency should default to USD")
	assert.Equal(t, 1, sec.MinLot, "min lot should default to 1")
	assert.Equal(t, []string{"mega-cap"}, sec.Tags, "empty tags should be dropped")
	require.NotNil(t, sec.LastSynced)
	assert.Equal(t, synced, *sec.LastSynced)

	// Upsert again with new sector, symbol stays unique
	err = repo.Upsert(&Security{Symbol: "AAPL", Name: "Apple Inc.", Sector: "Tech", Active: true})
	require.NoError(t, err)

	count, err := repo.Count(false)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	sec, err = repo.GetBySymbol("AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Tech", sec.Sector)
}

func TestSecurityRepository_GetBySymbol_NotFound(t *testing.T) {
	repo := NewSecurityRepository(setupUniverseDB(t), zerolog.Nop())

	sec, err := repo.GetBySymbol("NOPE")
	require.NoError(t, err)
	assert.Nil(t, sec)
}

func TestSecurityRepository_Update(t *testing.T) {
	repo := NewSecurityRepository(setupUniverseDB(t), zerolog.Nop())

	require.NoError(t, repo.Upsert(&Security{Symbol: "MSFT", Name: "Microsoft", Active: true}))

	err := repo.Update("MSFT", map[string]interface{}{
		"min_lot": 10,
		"tags":    []string{"core"},
	})
	require.NoError(t, err)

	sec, err := repo.GetBySymbol("MSFT")
	require.NoError(t, err)
	assert.Equal(t, 10, sec.MinLot)
	assert.Equal(t, []string{"core"}, sec.Tags)

	// Whitelist rejects unknown columns
	err = repo.Update("MSFT", map[string]interface{}{"symbol": "HACK"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not updatable")

	// Unknown symbol reports not found
	err = repo.Update("NOPE", map[string]interface{}{"min_lot": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSecurityRepository_Deactivate(t *testing.T) {
	repo := NewSecurityRepository(setupUniverseDB(t), zerolog.Nop())

	require.NoError(t, repo.Upsert(&Security{Symbol: "AAA", Name: "Alpha", Active: true}))
	require.NoError(t, repo.Upsert(&Security{Symbol: "BBB", Name: "Beta", Active: true}))

	require.NoError(t, repo.Deactivate("AAA"))

	active, err := repo.GetAllActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "BBB", active[0].Symbol)

	all, err := repo.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 2, "deactivated securities stay in the table")
}

func TestSecurityRepository_Sectors(t *testing.T) {
	repo := NewSecurityRepository(setupUniverseDB(t), zerolog.Nop())

	require.NoError(t, repo.Upsert(&Security{Symbol: "AAPL", Name: "Apple", Sector: "Technology", Active: true}))
	require.NoError(t, repo.Upsert(&Security{Symbol: "MSFT", Name: "Microsoft", Sector: "Technology", Active: true}))
	require.NoError(t, repo.Upsert(&Security{Symbol: "JPM", Name: "JPMorgan", Sector: "Financials", Active: true}))
	require.NoError(t, repo.Upsert(&Security{Symbol: "ZZZ", Name: "NoSector", Active: true}))

	sectors, err := repo.DistinctSectors()
	require.NoError(t, err)
	assert.Equal(t, []string{"Financials", "Technology"}, sectors)

	tech, err := repo.GetBySector("Technology")
	require.NoError(t, err)
	require.Len(t, tech, 2)
	assert.Equal(t, "AAPL", tech[0].Symbol)
	assert.Equal(t, "MSFT", tech[1].Symbol)
}

func TestFundamentalsRepository_LatestSnapshot(t *testing.T) {
	conn := setupUniverseDB(t)
	secRepo := NewSecurityRepository(conn, zerolog.Nop())
	repo := NewFundamentalsRepository(conn, zerolog.Nop())

	require.NoError(t, secRepo.Upsert(&Security{Symbol: "AAPL", Name: "Apple", Active: true}))
	require.NoError(t, secRepo.Upsert(&Security{Symbol: "MSFT", Name: "Microsoft", Active: true}))

	err := repo.UpsertBatch([]Fundamentals{
		{Symbol: "AAPL", AsOf: "2026-01-15", PERatio: floatPtr(28.5), ROE: floatPtr(0.45)},
		{Symbol: "AAPL", AsOf: "2026-06-15", PERatio: floatPtr(31.0)},
		{Symbol: "MSFT", AsOf: "2026-06-15", PERatio: floatPtr(34.2), DebtToEquity: floatPtr(0.4)},
	})
	require.NoError(t, err)

	latest, err := repo.GetLatest("AAPL")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "2026-06-15", latest.AsOf)
	require.NotNil(t, latest.PERatio)
	assert.InDelta(t, 31.0, *latest.PERatio, 1e-9)
	assert.Nil(t, latest.ROE, "newer snapshot has no ROE")

	all, err := repo.GetAllLatest()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2026-06-15", all["AAPL"].AsOf)
	require.NotNil(t, all["MSFT"].DebtToEquity)
	assert.InDelta(t, 0.4, *all["MSFT"].DebtToEquity, 1e-9)

	missing, err := repo.GetLatest("NOPE")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSentimentRepository_Validation(t *testing.T) {
	conn := setupUniverseDB(t)
	secRepo := NewSecurityRepository(conn, zerolog.Nop())
	repo := NewSentimentRepository(conn, zerolog.Nop())

	require.NoError(t, secRepo.Upsert(&Security{Symbol: "AAPL", Name: "Apple", Active: true}))

	count := 12
	err := repo.Upsert(&SentimentRecord{
		Symbol:        "AAPL",
		AsOf:          "2026-06-01",
		AnalystRating: floatPtr(1.8),
		AnalystCount:  &count,
		NewsScore:     floatPtr(0.35),
	})
	require.NoError(t, err)

	rec, err := repo.GetLatest("aapl")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.InDelta(t, 1.8, *rec.AnalystRating, 1e-9)
	assert.Equal(t, 12, *rec.AnalystCount)

	// Out-of-range values are rejected
	err = repo.Upsert(&SentimentRecord{Symbol: "AAPL", AsOf: "2026-06-02", AnalystRating: floatPtr(7.0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analyst rating out of range")

	err = repo.Upsert(&SentimentRecord{Symbol: "AAPL", AsOf: "2026-06-02", NewsScore: floatPtr(2.0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "news score out of range")
}

func TestScoreRepository_SaveAndRank(t *testing.T) {
	conn := setupUniverseDB(t)
	repo := NewScoreRepository(conn, zerolog.Nop())

	err := repo.SaveScores([]SecurityScore{
		{Symbol: "AAPL", Composite: 0.82, Rank: 1, Components: map[string]float64{"value": 0.6}},
		{Symbol: "MSFT", Composite: 0.74, Rank: 2},
		{Symbol: "JPM", Composite: 0.51, Rank: 3},
	})
	require.NoError(t, err)

	top, err := repo.GetTopN(2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "AAPL", top[0].Symbol)
	assert.Equal(t, "MSFT", top[1].Symbol)
	assert.InDelta(t, 0.6, top[0].Components["value"], 1e-9)
	require.NotNil(t, top[0].ComputedAt)

	// A new run replaces the previous score set
	err = repo.SaveScores([]SecurityScore{
		{Symbol: "JPM", Composite: 0.9, Rank: 1},
	})
	require.NoError(t, err)

	all, err := repo.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "JPM", all[0].Symbol)

	gone, err := repo.GetBySymbol("AAPL")
	require.NoError(t, err)
	assert.Nil(t, gone)

	computedAt, err := repo.LatestComputedAt()
	require.NoError(t, err)
	require.NotNil(t, computedAt)
	assert.WithinDuration(t, time.Now().UTC(), *computedAt, time.Minute)
}
