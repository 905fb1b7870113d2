package advisor

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/features"
	"github.com/aristath/steward/internal/modules/optimization"
	"github.com/aristath/steward/internal/modules/profile"
	"github.com/aristath/steward/internal/modules/ranking"
	"github.com/aristath/steward/internal/modules/reports"
	"github.com/aristath/steward/internal/modules/risk"
	"github.com/aristath/steward/internal/modules/screening"
	"github.com/aristath/steward/internal/modules/sentiment"
	"github.com/aristath/steward/internal/modules/universe"
)

// pipelineFixture wires the full advisory pipeline against temp-file
// databases. Everything shares one event bus so tests can observe the
// lifecycle events a real dashboard would.
type pipelineFixture struct {
	service      *Service
	bus          *events.Bus
	sessions     *SessionRepository
	recs         *RecommendationRepository
	profiles     *profile.Repository
	reports      *reports.Repository
	securities   *universe.SecurityRepository
	fundamentals *universe.FundamentalsRepository
	sentiments   *universe.SentimentRepository
	history      *universe.HistoryDB
}

func setupPipeline(t *testing.T) *pipelineFixture {
	t.Helper()
	dir := t.TempDir()

	advisoryDB, err := database.New(database.Config{
		Path:    filepath.Join(dir, "advisory.db"),
		Name:    "advisory",
		Profile: database.ProfileCritical,
	})
	require.NoError(t, err)
	require.NoError(t, advisoryDB.Migrate())
	t.Cleanup(func() { _ = advisoryDB.Close() })

	universeDB, err := database.New(database.Config{
		Path:    filepath.Join(dir, "universe.db"),
		Name:    "universe",
		Profile: database.ProfileStandard,
	})
	require.NoError(t, err)
	require.NoError(t, universeDB.Migrate())
	t.Cleanup(func() { _ = universeDB.Close() })

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

	sentimentSvc := sentiment.NewService(
		securityRepo, sentRepo, historyDB,
		sentiment.NewRegimeDetector(zerolog.Nop()), manager, zerolog.Nop(),
	)
	builder := optimization.NewRiskModelBuilder(historyDB, zerolog.Nop())
	optimizer := optimization.NewService(
		builder,
		optimization.NewReturnsEstimator(historyDB, scoreRepo, zerolog.Nop()),
		optimization.NewSolver(zerolog.Nop()),
		securityRepo, sentimentSvc, zerolog.Nop(),
	)

	sessions := NewSessionRepository(advisoryDB.Conn(), zerolog.Nop())
	recs := NewRecommendationRepository(advisoryDB.Conn(), zerolog.Nop())
	profileRepo := profile.NewRepository(advisoryDB.Conn(), zerolog.Nop())
	reportRepo := reports.NewRepository(advisoryDB.Conn(), zerolog.Nop())

	svc := NewService(Deps{
		Sessions:        sessions,
		Recommendations: recs,
		Profiles:        profileRepo,
		Features:        features.NewEngine(securityRepo, fundRepo, sentRepo, historyDB, nil, zerolog.Nop()),
		Screener:        screening.NewScreener(zerolog.Nop()),
		Ranking:         ranking.NewEngine(scoreRepo, manager, zerolog.Nop()),
		Optimizer:       optimizer,
		Risk:            risk.NewService(builder, historyDB, securityRepo, zerolog.Nop()),
		Composer:        reports.NewComposer(zerolog.Nop()),
		Reports:         reportRepo,
		Sentiment:       sentimentSvc,
		Events:          manager,
	}, zerolog.Nop())

	return &pipelineFixture{
		service:      svc,
		bus:          bus,
		sessions:     sessions,
		recs:         recs,
		profiles:     profileRepo,
		reports:      reportRepo,
		securities:   securityRepo,
		fundamentals: fundRepo,
		sentiments:   sentRepo,
		history:      historyDB,
	}
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func createProfile(t *testing.T, f *pipelineFixture, excluded ...string) *profile.Profile {
	t.Helper()

	p := &profile.Profile{
		Name:                   "Avery Chen",
		Age:                    38,
		AnnualIncome:           95000,
		MonthlyExpenses:        3200,
		TotalSavings:           150000,
		TotalDebt:              20000,
		InvestmentHorizonYears: 20,
		RiskTolerance:          profile.ToleranceBalanced,
		ExcludedSectors:        excluded,
	}
	require.NoError(t, f.profiles.Create(p))
	return p
}

// seedSecurity inserts an active security with healthy fundamentals,
// mild sentiment and 300 days of smooth price history. freq and drift
// shape the price path so momentum differs across the cohort.
func seedSecurity(t *testing.T, f *pipelineFixture, symbol, sector string, freq, drift float64) {
	t.Helper()

	require.NoError(t, f.securities.Upsert(&universe.Security{
		Symbol: symbol,
		Name:   symbol + " Corp",
		Sector: sector,
		Active: true,
	}))
	require.NoError(t, f.fundamentals.Upsert(&universe.Fundamentals{
		Symbol:         symbol,
		AsOf:           "2025-06-30",
		MarketCap:      floatPtr(8e9),
		PERatio:        floatPtr(21.0),
		ROE:            floatPtr(0.16),
		DebtToEquity:   floatPtr(0.7),
		ProfitMargin:   floatPtr(0.18),
		EarningsGrowth: floatPtr(0.11),
		DividendYield:  floatPtr(0.015),
	}))
	require.NoError(t, f.sentiments.Upsert(&universe.SentimentRecord{
		Symbol:        symbol,
		AsOf:          "2025-06-30",
		AnalystRating: floatPtr(2.0),
		AnalystCount:  intPtr(12),
		NewsScore:     floatPtr(0.2),
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

// eventCapture records bus events. The bus delivers synchronously on
// the emitter's goroutine, so after Run returns the slice is settled.
type eventCapture struct {
	mu     sync.Mutex
	events []events.Event
}

func captureEvents(bus *events.Bus, types ...events.EventType) *eventCapture {
	c := &eventCapture{}
	for _, typ := range types {
		bus.Subscribe(typ, func(ev *events.Event) {
			c.mu.Lock()
			c.events = append(c.events, *ev)
			c.mu.Unlock()
		})
	}
	return c
}

func (c *eventCapture) ofType(typ events.EventType) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []events.Event
	for _, ev := range c.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestService_Run_FullPipeline(t *testing.T) {
	f := setupPipeline(t)
	p := createProfile(t, f, "Energy")

	symbols := []string{"ALPHA", "BRAVO", "CHARL", "DELTA", "ECHO"}
	for i, symbol := range symbols {
		seedSecurity(t, f, symbol, "Technology", 0.05+0.03*float64(i), 0.02+0.01*float64(i))
	}
	// Excluded by the profile, visible in the report's rejections.
	seedSecurity(t, f, "COAL", "Energy", 0.09, 0.03)

	capture := captureEvents(f.bus,
		events.SessionStarted, events.StageStarted, events.SessionProgress,
		events.ScreeningCompleted, events.SessionCompleted, events.SessionFailed,
		events.RecommendationReady,
	)

	session, err := f.service.Run(context.Background(), p.ID, RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, session)

	assert.Equal(t, StatusCompleted, session.Status)
	assert.Equal(t, StageComposeReport, session.Stage)
	require.NotNil(t, session.StartedAt)
	require.NotNil(t, session.FinishedAt)
	require.NotEmpty(t, session.RecommendationID)

	rec, err := f.recs.Get(session.RecommendationID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, session.ID, rec.SessionID)
	assert.Equal(t, p.ID, rec.ProfileID)
	assert.Equal(t, profile.BandBalanced, rec.Assessment.Band)
	assert.Equal(t, 5, rec.CandidateCount)

	require.Len(t, rec.Ranked, 5)
	for i, r := range rec.Ranked {
		assert.Equal(t, i+1, r.Rank)
	}

	require.NotEmpty(t, rec.Weights)
	sum := 0.0
	for symbol, w := range rec.Weights {
		assert.Greater(t, w, 0.0, symbol)
		assert.LessOrEqual(t, w, 0.25+1e-9, symbol)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)

	require.NotNil(t, rec.Metrics)
	assert.Equal(t, 252, rec.Metrics.ObservationDays)
	assert.Greater(t, rec.Metrics.AnnualVolatility, 0.0)

	require.NotEmpty(t, rec.ReportID)
	report, err := f.reports.GetReport(rec.ReportID)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, rec.ID, report.RecommendationID)
	assert.Contains(t, report.Markdown, "# Investment Advisory Report")
	assert.Contains(t, report.Markdown, "COAL: sector Energy is excluded")
	assert.Equal(t, len(rec.Weights), report.Summary.Positions)

	started := capture.ofType(events.SessionStarted)
	require.Len(t, started, 1)
	assert.Equal(t, session.ID, started[0].Data["session_id"])

	stages := capture.ofType(events.StageStarted)
	require.Len(t, stages, len(Stages))
	for i, ev := range stages {
		assert.Equal(t, Stages[i], ev.Data["stage"])
	}

	progress := capture.ofType(events.SessionProgress)
	require.NotEmpty(t, progress)
	assert.InDelta(t, 100.0, progress[len(progress)-1].Data["percent"], 1e-9)

	screens := capture.ofType(events.ScreeningCompleted)
	require.Len(t, screens, 1)
	assert.InDelta(t, 5.0, screens[0].Data["candidates"], 1e-9)
	assert.InDelta(t, 1.0, screens[0].Data["rejected"], 1e-9)

	completed := capture.ofType(events.SessionCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, session.RecommendationID, completed[0].Data["recommendation_id"])

	ready := capture.ofType(events.RecommendationReady)
	require.Len(t, ready, 1)
	assert.InDelta(t, float64(len(rec.Weights)), ready[0].Data["positions"], 1e-9)

	assert.Empty(t, capture.ofType(events.SessionFailed))
}

func TestService_Run_NoCandidates(t *testing.T) {
	f := setupPipeline(t)
	p := createProfile(t, f)

	// ROE below the quality floor rejects every name.
	for _, symbol := range []string{"WEAK1", "WEAK2", "WEAK3"} {
		require.NoError(t, f.securities.Upsert(&universe.Security{
			Symbol: symbol,
			Name:   symbol + " Corp",
			Sector: "Utilities",
			Active: true,
		}))
		require.NoError(t, f.fundamentals.Upsert(&universe.Fundamentals{
			Symbol:    symbol,
			AsOf:      "2025-06-30",
			MarketCap: floatPtr(2e9),
			ROE:       floatPtr(0.02),
		}))
	}

	capture := captureEvents(f.bus, events.ScreeningCompleted, events.RecommendationReady)

	session, err := f.service.Run(context.Background(), p.ID, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, session.Status)

	rec, err := f.recs.Get(session.RecommendationID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 0, rec.CandidateCount)
	assert.Empty(t, rec.Ranked)
	assert.Empty(t, rec.Weights)
	assert.Nil(t, rec.Metrics)

	report, err := f.reports.GetReport(rec.ReportID)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Contains(t, report.Markdown, "The screen eliminated every candidate, so no portfolio was constructed for this run.")

	screens := capture.ofType(events.ScreeningCompleted)
	require.Len(t, screens, 1)
	assert.InDelta(t, 0.0, screens[0].Data["candidates"], 1e-9)
	assert.InDelta(t, 3.0, screens[0].Data["rejected"], 1e-9)

	ready := capture.ofType(events.RecommendationReady)
	require.Len(t, ready, 1)
	assert.InDelta(t, 0.0, ready[0].Data["positions"], 1e-9)
}

func TestService_Run_ConflictWhenActive(t *testing.T) {
	f := setupPipeline(t)
	p := createProfile(t, f)

	active := &Session{ProfileID: p.ID, Status: StatusRunning}
	require.NoError(t, f.sessions.Create(active))

	_, err := f.service.Run(context.Background(), p.ID, RunOptions{})
	require.ErrorIs(t, err, ErrSessionActive)
}

func TestService_Run_UnknownProfile(t *testing.T) {
	f := setupPipeline(t)

	_, err := f.service.Run(context.Background(), "no-such-profile", RunOptions{})
	require.ErrorIs(t, err, ErrProfileNotFound)
}

func TestService_Run_CancelledContext(t *testing.T) {
	f := setupPipeline(t)
	p := createProfile(t, f)

	capture := captureEvents(f.bus, events.SessionFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session, err := f.service.Run(ctx, p.ID, RunOptions{})
	require.Error(t, err)
	require.NotNil(t, session)
	assert.Equal(t, StatusFailed, session.Status)
	assert.Contains(t, session.Error, "cancelled before collect_profile")

	failed := capture.ofType(events.SessionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, session.ID, failed[0].Data["session_id"])
}

func TestService_Start_Async(t *testing.T) {
	f := setupPipeline(t)
	p := createProfile(t, f)

	session, err := f.service.Start(p.ID, RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, StatusPending, session.Status)

	require.Eventually(t, func() bool {
		got, err := f.sessions.Get(session.ID)
		return err == nil && got != nil && got.Terminal()
	}, 15*time.Second, 50*time.Millisecond, "session never reached a terminal state")

	got, err := f.sessions.Get(session.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotEmpty(t, got.RecommendationID)
	require.NotNil(t, got.FinishedAt)
}

func TestTopCandidates(t *testing.T) {
	ranked := []ranking.RankedSecurity{{Symbol: "A"}, {Symbol: "B"}, {Symbol: "C"}}

	assert.Len(t, topCandidates(ranked, 2), 2)
	assert.Len(t, topCandidates(ranked, 10), 3)
	assert.Len(t, topCandidates(ranked, 0), 3)
	assert.Empty(t, topCandidates(nil, 5))
}

func TestStagePercent(t *testing.T) {
	assert.InDelta(t, 17, stagePercent(0, 1), 1e-9)
	assert.InDelta(t, 25, stagePercent(1, 0.5), 1e-9)
	assert.InDelta(t, 50, stagePercent(2, 1), 1e-9)
	assert.InDelta(t, 100, stagePercent(5, 1), 1e-9)
}
