// Package handlers provides HTTP handlers for ad-hoc screening runs.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/features"
	"github.com/aristath/steward/internal/modules/profile"
	"github.com/aristath/steward/internal/modules/screening"
	"github.com/rs/zerolog"
)

// ScreeningHandlers handles screening API endpoints.
type ScreeningHandlers struct {
	engine   *features.Engine
	screener *screening.Screener
	events   *events.Manager
	log      zerolog.Logger
}

// NewScreeningHandlers creates screening handlers.
func NewScreeningHandlers(engine *features.Engine, screener *screening.Screener, eventManager *events.Manager, log zerolog.Logger) *ScreeningHandlers {
	return &ScreeningHandlers{
		engine:   engine,
		screener: screener,
		events:   eventManager,
		log:      log.With().Str("module", "screening_handlers").Logger(),
	}
}

// HandleRun handles POST /api/screening/run
// Body (all optional): {"criteria": {partial overrides}, "band": "conservative"}.
// Absent criteria fields keep their defaults; the band overlay applies last.
func (h *ScreeningHandlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Criteria json.RawMessage `json:"criteria"`
		Band     string          `json:"band"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	criteria := screening.DefaultCriteria()
	if len(req.Criteria) > 0 {
		if err := json.Unmarshal(req.Criteria, &criteria); err != nil {
			http.Error(w, "Invalid criteria", http.StatusBadRequest)
			return
		}
	}

	switch profile.Band(req.Band) {
	case "", profile.BandConservative, profile.BandBalanced, profile.BandAggressive:
	default:
		http.Error(w, "Invalid band", http.StatusBadRequest)
		return
	}
	if req.Band != "" {
		criteria = criteria.ForBand(profile.Band(req.Band))
	}

	vectors, err := h.engine.ComputeUniverse(r.Context(), nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute universe features")
		http.Error(w, "Failed to compute universe features", http.StatusInternalServerError)
		return
	}

	result := h.screener.Screen(vectors, criteria)

	h.events.EmitTyped(events.ScreeningCompleted, "screening", &events.ScreeningCompletedData{
		Candidates:  len(result.Candidates),
		Rejected:    len(result.Rejected),
		LayerCounts: result.LayerCounts,
	})

	response := map[string]interface{}{
		"criteria": criteria,
		"result":   result,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response) // Ignore encode error - already committed response
}
