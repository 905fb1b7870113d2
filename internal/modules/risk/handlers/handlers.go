// Package handlers provides HTTP handlers for risk metrics operations.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/modules/risk"
)

// RiskHandlers handles risk API endpoints.
type RiskHandlers struct {
	service *risk.Service
	log     zerolog.Logger
}

// NewRiskHandlers creates risk handlers.
func NewRiskHandlers(service *risk.Service, log zerolog.Logger) *RiskHandlers {
	return &RiskHandlers{
		service: service,
		log:     log.With().Str("module", "risk_handlers").Logger(),
	}
}

// HandlePortfolio handles POST /api/risk/portfolio
//
// Accepts a weight vector and returns the full portfolio metric set.
// Empty weights produce zeroed metrics rather than an error.
func (h *RiskHandlers) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Weights map[string]float64 `json:"weights"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	metrics, err := h.service.ComputePortfolio(req.Weights)
	if err != nil {
		if strings.Contains(err.Error(), "negative weight") ||
			strings.Contains(err.Error(), "price history") {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Msg("Failed to compute portfolio risk")
		http.Error(w, "Failed to compute portfolio risk", http.StatusInternalServerError)
		return
	}

	h.writeEnvelope(w, metrics)
}

// HandleSecurity handles GET /api/risk/security/{symbol}
func (h *RiskHandlers) HandleSecurity(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	metrics, err := h.service.ComputeSecurity(symbol)
	if err != nil {
		if strings.Contains(err.Error(), "insufficient history") {
			http.Error(w, "Insufficient price history", http.StatusNotFound)
			return
		}
		if strings.Contains(err.Error(), "symbol is required") {
			http.Error(w, "Symbol is required", http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to compute security risk")
		http.Error(w, "Failed to compute security risk", http.StatusInternalServerError)
		return
	}

	h.writeEnvelope(w, metrics)
}

// writeEnvelope wraps a payload in the data/metadata envelope.
func (h *RiskHandlers) writeEnvelope(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
			"lookback_days": risk.DefaultLookbackDays,
			"method":        "historical",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response) // Ignore encode error - already committed response
}
