// Package handlers provides HTTP handlers for ranking runs and the
// persisted leaderboard.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/aristath/steward/internal/modules/features"
	"github.com/aristath/steward/internal/modules/profile"
	"github.com/aristath/steward/internal/modules/ranking"
	"github.com/aristath/steward/internal/modules/screening"
	"github.com/aristath/steward/internal/modules/sentiment"
	"github.com/aristath/steward/internal/modules/universe"
	"github.com/rs/zerolog"
)

const defaultTopN = 10

// RankingHandlers handles ranking API endpoints.
type RankingHandlers struct {
	featureEngine *features.Engine
	screener      *screening.Screener
	sentimentSvc  *sentiment.Service
	engine        *ranking.Engine
	scoreRepo     *universe.ScoreRepository
	log           zerolog.Logger
}

// NewRankingHandlers creates ranking handlers.
func NewRankingHandlers(
	featureEngine *features.Engine,
	screener *screening.Screener,
	sentimentSvc *sentiment.Service,
	engine *ranking.Engine,
	scoreRepo *universe.ScoreRepository,
	log zerolog.Logger,
) *RankingHandlers {
	return &RankingHandlers{
		featureEngine: featureEngine,
		screener:      screener,
		sentimentSvc:  sentimentSvc,
		engine:        engine,
		scoreRepo:     scoreRepo,
		log:           log.With().Str("module", "ranking_handlers").Logger(),
	}
}

// HandleRun handles POST /api/ranking/run
// Body (all optional): {"weights": {full set}, "band": "balanced"}.
// Weights must be a complete set when given; the default screen feeds the
// ranking, tightened or relaxed by the band overlay.
func (h *RankingHandlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Weights *ranking.Weights `json:"weights"`
		Band    string           `json:"band"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	weights := ranking.DefaultWeights()
	if req.Weights != nil {
		weights = *req.Weights
	}
	if err := weights.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	criteria := screening.DefaultCriteria()
	switch profile.Band(req.Band) {
	case "":
	case profile.BandConservative, profile.BandBalanced, profile.BandAggressive:
		criteria = criteria.ForBand(profile.Band(req.Band))
	default:
		http.Error(w, "Invalid band", http.StatusBadRequest)
		return
	}

	regime, err := h.sentimentSvc.CurrentRegime(0)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to detect market regime")
		http.Error(w, "Failed to detect market regime", http.StatusInternalServerError)
		return
	}

	vectors, err := h.featureEngine.ComputeUniverse(r.Context(), nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute universe features")
		http.Error(w, "Failed to compute universe features", http.StatusInternalServerError)
		return
	}

	screened := h.screener.Screen(vectors, criteria)

	ranked, err := h.engine.Rank(screened.Candidates, weights, regime.Regime)
	if err != nil {
		h.log.Error().Err(err).Msg("Ranking run failed")
		http.Error(w, "Ranking run failed", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"regime":   regime,
		"weights":  weights,
		"screened": screened.LayerCounts,
		"ranked":   ranked,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response) // Ignore encode error - already committed response
}

// HandleTop handles GET /api/ranking/top?n=
// Returns the best n rows of the latest persisted ranking.
func (h *RankingHandlers) HandleTop(w http.ResponseWriter, r *http.Request) {
	n := defaultTopN
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}

	scores, err := h.scoreRepo.GetTopN(n)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load top scores")
		http.Error(w, "Failed to load top scores", http.StatusInternalServerError)
		return
	}
	if scores == nil {
		scores = []universe.SecurityScore{}
	}

	response := map[string]interface{}{
		"count":  len(scores),
		"scores": scores,
	}
	if computedAt, err := h.scoreRepo.LatestComputedAt(); err == nil && computedAt != nil {
		response["computed_at"] = computedAt
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response) // Ignore encode error - already committed response
}
