// Package handlers provides HTTP handlers for feature vector inspection.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aristath/steward/internal/modules/features"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// FeatureHandlers handles feature API endpoints.
type FeatureHandlers struct {
	engine *features.Engine
	log    zerolog.Logger
}

// NewFeatureHandlers creates feature handlers.
func NewFeatureHandlers(engine *features.Engine, log zerolog.Logger) *FeatureHandlers {
	return &FeatureHandlers{
		engine: engine,
		log:    log.With().Str("module", "feature_handlers").Logger(),
	}
}

// HandleGetFeatures handles GET /api/features/{symbol}
// Returns the computed feature vector, the explain surface behind
// screening and ranking decisions.
func (h *FeatureHandlers) HandleGetFeatures(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	vector, err := h.engine.Compute(symbol)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Security not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to compute features")
		http.Error(w, "Failed to compute features", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(vector) // Ignore encode error - already committed response
}
