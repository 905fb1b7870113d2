// Package handlers provides HTTP handlers for market sentiment queries.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aristath/steward/internal/modules/sentiment"
	"github.com/rs/zerolog"
)

// SentimentHandlers handles sentiment and regime API endpoints.
type SentimentHandlers struct {
	service *sentiment.Service
	log     zerolog.Logger
}

// NewSentimentHandlers creates sentiment handlers.
func NewSentimentHandlers(service *sentiment.Service, log zerolog.Logger) *SentimentHandlers {
	return &SentimentHandlers{
		service: service,
		log:     log.With().Str("module", "sentiment_handlers").Logger(),
	}
}

// HandleGetRegime handles GET /api/sentiment/regime
// Detects the market regime over the trailing window (?window=N, default 60).
func (h *SentimentHandlers) HandleGetRegime(w http.ResponseWriter, r *http.Request) {
	window := sentiment.DefaultRegimeWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "window must be a positive integer", http.StatusBadRequest)
			return
		}
		window = parsed
	}

	snapshot, err := h.service.CurrentRegime(window)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to detect market regime")
		http.Error(w, "Failed to detect market regime", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot) // Ignore encode error - already committed response
}
