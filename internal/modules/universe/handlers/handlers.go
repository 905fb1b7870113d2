// Package handlers provides HTTP handlers for universe management.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/aristath/steward/internal/modules/universe"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// UniverseHandlers serves the universe API: securities, fundamentals,
// sentiment, persisted scores, price history and batch imports.
type UniverseHandlers struct {
	securityRepo     *universe.SecurityRepository
	fundamentalsRepo *universe.FundamentalsRepository
	sentimentRepo    *universe.SentimentRepository
	scoreRepo        *universe.ScoreRepository
	historyDB        *universe.HistoryDB
	importService    *universe.ImportService
	log              zerolog.Logger
}

// NewUniverseHandlers creates a new universe handlers instance
func NewUniverseHandlers(
	securityRepo *universe.SecurityRepository,
	fundamentalsRepo *universe.FundamentalsRepository,
	sentimentRepo *universe.SentimentRepository,
	scoreRepo *universe.ScoreRepository,
	historyDB *universe.HistoryDB,
	importService *universe.ImportService,
	log zerolog.Logger,
) *UniverseHandlers {
	return &UniverseHandlers{
		securityRepo:     securityRepo,
		fundamentalsRepo: fundamentalsRepo,
		sentimentRepo:    sentimentRepo,
		scoreRepo:        scoreRepo,
		historyDB:        historyDB,
		importService:    importService,
		log:              log.With().Str("module", "universe_handlers").Logger(),
	}
}

// HandleListSecurities returns securities, optionally filtered by sector.
// GET /api/universe/securities?sector=Technology&include_inactive=true
func (h *UniverseHandlers) HandleListSecurities(w http.ResponseWriter, r *http.Request) {
	var (
		securities []universe.Security
		err        error
	)

	sector := strings.TrimSpace(r.URL.Query().Get("sector"))
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	switch {
	case sector != "":
		securities, err = h.securityRepo.GetBySector(sector)
	case includeInactive:
		securities, err = h.securityRepo.GetAll()
	default:
		securities, err = h.securityRepo.GetAllActive()
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to fetch securities")
		http.Error(w, "Failed to fetch securities", http.StatusInternalServerError)
		return
	}

	if securities == nil {
		securities = []universe.Security{}
	}

	response := map[string]interface{}{
		"securities": securities,
		"count":      len(securities),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response) // Ignore encode error - already committed response
}

// HandleGetSecurity returns one security with its latest fundamentals,
// sentiment and persisted score.
// GET /api/universe/securities/{symbol}
func (h *UniverseHandlers) HandleGetSecurity(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	security, err := h.securityRepo.GetBySymbol(symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to fetch security")
		http.Error(w, "Failed to fetch security", http.StatusInternalServerError)
		return
	}
	if security == nil {
		http.Error(w, "Security not found", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"security": security,
	}

	if fundamentals, err := h.fundamentalsRepo.GetLatest(security.Symbol); err == nil && fundamentals != nil {
		response["fundamentals"] = fundamentals
	}
	if sentiment, err := h.sentimentRepo.GetLatest(security.Symbol); err == nil && sentiment != nil {
		response["sentiment"] = sentiment
	}
	if score, err := h.scoreRepo.GetBySymbol(security.Symbol); err == nil && score != nil {
		response["score"] = score
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response) // Ignore encode error - already committed response
}

// HandleUpdateSecurity applies a partial update to a security.
// PUT /api/universe/securities/{symbol}
func (h *UniverseHandlers) HandleUpdateSecurity(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	var updates map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(updates) == 0 {
		http.Error(w, "No updates provided", http.StatusBadRequest)
		return
	}

	// JSON arrays decode as []interface{}, repository expects []string for tags
	if raw, ok := updates["tags"].([]interface{}); ok {
		tags := make([]string, 0, len(raw))
		for _, t := range raw {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		updates["tags"] = tags
	}

	if err := h.securityRepo.Update(symbol, updates); err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Security not found", http.StatusNotFound)
			return
		}
		if strings.Contains(err.Error(), "not updatable") {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to update security")
		http.Error(w, "Failed to update security", http.StatusInternalServerError)
		return
	}

	security, err := h.securityRepo.GetBySymbol(symbol)
	if err != nil || security == nil {
		http.Error(w, "Security not found after update", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"security": security})
}

// HandleDeactivateSecurity soft-deletes a security.
// DELETE /api/universe/securities/{symbol}
func (h *UniverseHandlers) HandleDeactivateSecurity(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	if err := h.securityRepo.Deactivate(symbol); err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Security not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to deactivate security")
		http.Error(w, "Failed to deactivate security", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"message": fmt.Sprintf("Security %s deactivated", strings.ToUpper(strings.TrimSpace(symbol))),
	})
}

// HandleGetSectors lists the sectors present among active securities.
// GET /api/universe/sectors
func (h *UniverseHandlers) HandleGetSectors(w http.ResponseWriter, r *http.Request) {
	sectors, err := h.securityRepo.DistinctSectors()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to fetch sectors")
		http.Error(w, "Failed to fetch sectors", http.StatusInternalServerError)
		return
	}

	if sectors == nil {
		sectors = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"sectors": sectors})
}

// HandleGetPrices returns recent daily prices for a symbol.
// GET /api/universe/securities/{symbol}/prices?days=90
func (h *UniverseHandlers) HandleGetPrices(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	days := 90
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid days parameter", http.StatusBadRequest)
			return
		}
		days = parsed
	}

	prices, err := h.historyDB.GetRecentPrices(symbol, days)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to fetch prices")
		http.Error(w, "Failed to fetch prices", http.StatusInternalServerError)
		return
	}

	if prices == nil {
		prices = []universe.DailyPrice{}
	}

	response := map[string]interface{}{
		"symbol": strings.ToUpper(strings.TrimSpace(symbol)),
		"days":   days,
		"prices": prices,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response) // Ignore encode error - already committed response
}

// HandleGetScores returns persisted ranking scores ordered by rank.
// GET /api/universe/scores?limit=25
func (h *UniverseHandlers) HandleGetScores(w http.ResponseWriter, r *http.Request) {
	var (
		scores []universe.SecurityScore
		err    error
	)

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, parseErr := strconv.Atoi(raw)
		if parseErr != nil || limit <= 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		scores, err = h.scoreRepo.GetTopN(limit)
	} else {
		scores, err = h.scoreRepo.GetAll()
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to fetch scores")
		http.Error(w, "Failed to fetch scores", http.StatusInternalServerError)
		return
	}

	if scores == nil {
		scores = []universe.SecurityScore{}
	}

	response := map[string]interface{}{
		"scores": scores,
		"count":  len(scores),
	}

	if computedAt, err := h.scoreRepo.LatestComputedAt(); err == nil && computedAt != nil {
		response["computed_at"] = computedAt
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response) // Ignore encode error - already committed response
}

// HandleImportUniverse ingests a securities/fundamentals/sentiment batch.
// POST /api/universe/import
func (h *UniverseHandlers) HandleImportUniverse(w http.ResponseWriter, r *http.Request) {
	var batch universe.UniverseBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.importService.ImportUniverse(&batch)
	if err != nil {
		if strings.Contains(err.Error(), "empty") || strings.Contains(err.Error(), "cannot be") {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Msg("Universe import failed")
		http.Error(w, fmt.Sprintf("Import failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  "Universe batch imported",
		"imported": result,
	})
}

// HandleImportPrices ingests a daily price batch for one symbol.
// POST /api/universe/import/prices
func (h *UniverseHandlers) HandleImportPrices(w http.ResponseWriter, r *http.Request) {
	var payload universe.PriceImport
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	days, err := h.importService.ImportPrices(&payload)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if strings.Contains(err.Error(), "cannot be empty") {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Str("symbol", payload.Symbol).Msg("Price import failed")
		http.Error(w, fmt.Sprintf("Import failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"symbol": strings.ToUpper(strings.TrimSpace(payload.Symbol)),
		"days":   days,
	})
}
