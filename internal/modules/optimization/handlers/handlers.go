// Package handlers provides HTTP handlers for portfolio optimization runs.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/aristath/steward/internal/modules/optimization"
	"github.com/aristath/steward/internal/modules/profile"
	"github.com/aristath/steward/internal/modules/universe"
	"github.com/rs/zerolog"
)

// defaultCandidateCount is how many top-ranked securities feed the optimizer
// when the request does not name symbols.
const defaultCandidateCount = 15

// OptimizationHandlers handles optimization API endpoints.
type OptimizationHandlers struct {
	service   *optimization.Service
	scoreRepo *universe.ScoreRepository
	log       zerolog.Logger
}

// NewOptimizationHandlers creates optimization handlers.
func NewOptimizationHandlers(service *optimization.Service, scoreRepo *universe.ScoreRepository, log zerolog.Logger) *OptimizationHandlers {
	return &OptimizationHandlers{
		service:   service,
		scoreRepo: scoreRepo,
		log:       log.With().Str("module", "optimization_handlers").Logger(),
	}
}

// HandleRun handles POST /api/optimization/run
// Body: an optimization request plus an optional "band". Symbols default to
// the current top-ranked securities.
func (h *OptimizationHandlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		optimization.Request
		Band string `json:"band"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.Symbols) == 0 {
		scores, err := h.scoreRepo.GetTopN(defaultCandidateCount)
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to load ranked securities")
			http.Error(w, "Failed to load ranked securities", http.StatusInternalServerError)
			return
		}
		for _, score := range scores {
			req.Symbols = append(req.Symbols, score.Symbol)
		}
		if len(req.Symbols) == 0 {
			http.Error(w, "No symbols provided and no ranked securities available", http.StatusBadRequest)
			return
		}
	}

	if err := req.Request.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var band profile.Band
	switch profile.Band(req.Band) {
	case "":
	case profile.BandConservative, profile.BandBalanced, profile.BandAggressive:
		band = profile.Band(req.Band)
	default:
		http.Error(w, "Invalid band", http.StatusBadRequest)
		return
	}

	var solution *optimization.Solution
	var err error
	if band != "" {
		solution, err = h.service.OptimizeForBand(req.Request, band)
	} else {
		solution, err = h.service.Optimize(req.Request)
	}
	if err != nil {
		h.log.Error().Err(err).Str("strategy", req.Strategy).Msg("Optimization failed")
		http.Error(w, "Optimization failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(solution) // Ignore encode error - already committed response
}
