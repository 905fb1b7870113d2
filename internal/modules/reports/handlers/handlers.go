// Package handlers provides HTTP handlers for report retrieval.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/modules/reports"
)

// ReportHandlers handles report API endpoints.
type ReportHandlers struct {
	repo *reports.Repository
	log  zerolog.Logger
}

// NewReportHandlers creates report handlers.
func NewReportHandlers(repo *reports.Repository, log zerolog.Logger) *ReportHandlers {
	return &ReportHandlers{
		repo: repo,
		log:  log.With().Str("module", "report_handlers").Logger(),
	}
}

// HandleGet handles GET /api/reports/{id}
//
// The default response is the JSON document with markdown and summary.
// ?format=md returns raw markdown, ?format=html a rendered fragment.
func (h *ReportHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := h.repo.GetReport(id)
	if err != nil {
		h.log.Error().Err(err).Str("report_id", id).Msg("Failed to load report")
		http.Error(w, "Failed to load report", http.StatusInternalServerError)
		return
	}
	if report == nil {
		http.Error(w, "Report not found", http.StatusNotFound)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report) // Ignore encode error - already committed response
	case "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(report.Markdown))
	case "html":
		rendered, err := reports.RenderHTML(report.Markdown)
		if err != nil {
			h.log.Error().Err(err).Str("report_id", id).Msg("Failed to render report")
			http.Error(w, "Failed to render report", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(rendered))
	default:
		http.Error(w, "Unknown format", http.StatusBadRequest)
	}
}

// HandleList handles GET /api/reports
func (h *ReportHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list reports")
		http.Error(w, "Failed to list reports", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []reports.Report{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list) // Ignore encode error - already committed response
}
