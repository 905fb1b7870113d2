package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/features"
	"github.com/aristath/steward/internal/modules/ranking"
	"github.com/aristath/steward/internal/modules/screening"
	"github.com/aristath/steward/internal/modules/sentiment"
	"github.com/aristath/steward/internal/modules/universe"
)

type handlersFixture struct {
	scoreRepo *universe.ScoreRepository
	router    *chi.Mux
}

// setupHandlers wires the full ranking pipeline over a small seeded
// universe: three symbols with seventy days of gently rising prices and
// no fundamentals, so every hard gate passes on absence.
func setupHandlers(t *testing.T) *handlersFixture {
	t.Helper()

	dir := t.TempDir()

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

	securityRepo := universe.NewSecurityRepository(universeDB.Conn(), zerolog.Nop())
	fundamentalsRepo := universe.NewFundamentalsRepository(universeDB.Conn(), zerolog.Nop())
	sentimentRepo := universe.NewSentimentRepository(universeDB.Conn(), zerolog.Nop())
	scoreRepo := universe.NewScoreRepository(universeDB.Conn(), zerolog.Nop())
	historyDB := universe.NewHistoryDB(historyConn, zerolog.Nop())

	manager := events.NewManager(events.NewBus(), zerolog.Nop())

	h := NewRankingHandlers(
		features.NewEngine(securityRepo, fundamentalsRepo, sentimentRepo, historyDB, nil, zerolog.Nop()),
		screening.NewScreener(zerolog.Nop()),
		sentiment.NewService(securityRepo, sentimentRepo, historyDB, sentiment.NewRegimeDetector(zerolog.Nop()), manager, zerolog.Nop()),
		ranking.NewEngine(scoreRepo, manager, zerolog.Nop()),
		scoreRepo,
		zerolog.Nop(),
	)

	router := chi.NewRouter()
	router.Post("/ranking/run", h.HandleRun)
	router.Get("/ranking/top", h.HandleTop)

	day, err := time.Parse("2006-01-02", "2025-06-02")
	require.NoError(t, err)
	for _, spec := range []struct {
		symbol string
		drift  float64
	}{{"AAA", 0.3}, {"BBB", 0.5}, {"CCC", 0.7}} {
		require.NoError(t, securityRepo.Upsert(&universe.Security{
			Symbol: spec.symbol,
			Name:   spec.symbol + " Corp",
			Sector: "Industrials",
			Active: true,
		}))

		prices := make([]universe.DailyPrice, 70)
		for d := range prices {
			c := 100 + spec.drift*float64(d)
			prices[d] = universe.DailyPrice{
				Date:  day.AddDate(0, 0, d).Format("2006-01-02"),
				Open:  c,
				High:  c * 1.01,
				Low:   c * 0.99,
				Close: c,
			}
		}
		require.NoError(t, historyDB.ImportDailyPrices(spec.symbol, prices))
	}

	return &handlersFixture{scoreRepo: scoreRepo, router: router}
}

func (f *handlersFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type runResponse struct {
	Regime   sentiment.Snapshot       `json:"regime"`
	Weights  ranking.Weights          `json:"weights"`
	Screened map[string]int           `json:"screened"`
	Ranked   []ranking.RankedSecurity `json:"ranked"`
}

func TestHandleRun(t *testing.T) {
	f := setupHandlers(t)

	w := f.do(http.MethodPost, "/ranking/run", `{}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp runResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.NotEmpty(t, resp.Regime.Regime)
	assert.Equal(t, sentiment.DefaultRegimeWindow, resp.Regime.Window)
	assert.Equal(t, 3, resp.Regime.Symbols, "proxy built from all seeded symbols")

	assert.InDelta(t, 0.25, resp.Weights.Value, 1e-9, "defaults applied when no override given")

	require.Len(t, resp.Ranked, 3)
	for i, r := range resp.Ranked {
		assert.Equal(t, i+1, r.Rank, "ranks are dense")
		if i > 0 {
			assert.GreaterOrEqual(t, resp.Ranked[i-1].Composite, r.Composite, "composite descending")
		}
	}

	// The run persists its result for /ranking/top and the advisor.
	persisted, err := f.scoreRepo.GetAll()
	require.NoError(t, err)
	assert.Len(t, persisted, 3)
}

func TestHandleRun_ConservativeBandRequiresDividend(t *testing.T) {
	f := setupHandlers(t)

	w := f.do(http.MethodPost, "/ranking/run", `{"band": "conservative"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp runResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	// None of the seeds pays a dividend, so the tightened quality gate
	// rejects the whole universe.
	assert.Empty(t, resp.Ranked)
	assert.Equal(t, 3, resp.Screened[screening.LayerQuality])
}

func TestHandleRun_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed body", body: `{"weights": {`},
		{name: "weights not summing to one", body: `{"weights": {"value": 0.5}}`},
		{
			name: "negative weight",
			body: `{"weights": {"value": -0.1, "quality": 0.35, "momentum": 0.25, "sentiment": 0.25, "stability": 0.25}}`,
		},
		{name: "unknown band", body: `{"band": "reckless"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupHandlers(t)

			w := f.do(http.MethodPost, "/ranking/run", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleTop(t *testing.T) {
	f := setupHandlers(t)

	w := f.do(http.MethodPost, "/ranking/run", `{}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/ranking/top?n=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count      int                      `json:"count"`
		Scores     []universe.SecurityScore `json:"scores"`
		ComputedAt *time.Time               `json:"computed_at"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Scores, 2)
	assert.Equal(t, 1, resp.Scores[0].Rank)
	assert.Equal(t, 2, resp.Scores[1].Rank)
	assert.NotNil(t, resp.ComputedAt)

	// Default window returns everything persisted.
	w = f.do(http.MethodGet, "/ranking/top", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)
}

func TestHandleTop_BeforeFirstRun(t *testing.T) {
	f := setupHandlers(t)

	w := f.do(http.MethodGet, "/ranking/top", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.JSONEq(t, "0", string(resp["count"]))
	assert.JSONEq(t, "[]", string(resp["scores"]))
	assert.NotContains(t, resp, "computed_at")
}

func TestHandleTop_InvalidN(t *testing.T) {
	f := setupHandlers(t)

	for _, n := range []string{"junk", "0", "-3"} {
		w := f.do(http.MethodGet, "/ranking/top?n="+n, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, "n=%s", n)
	}
}
