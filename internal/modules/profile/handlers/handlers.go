// Package handlers provides HTTP handlers for profile management.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aristath/steward/internal/modules/profile"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

var validate = validator.New()

// ProfileHandlers serves profile CRUD and the derived risk assessment.
type ProfileHandlers struct {
	repo *profile.Repository
	log  zerolog.Logger
}

// NewProfileHandlers creates a new profile handlers instance
func NewProfileHandlers(repo *profile.Repository, log zerolog.Logger) *ProfileHandlers {
	return &ProfileHandlers{
		repo: repo,
		log:  log.With().Str("module", "profile_handlers").Logger(),
	}
}

// HandleCreate creates a profile.
// POST /api/profiles
func (h *ProfileHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var p profile.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := validate.Struct(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.ID = "" // server-assigned
	if err := h.repo.Create(&p); err != nil {
		h.log.Error().Err(err).Msg("Failed to create profile")
		http.Error(w, "Failed to create profile", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"profile": p})
}

// HandleList returns all profiles, newest first.
// GET /api/profiles
func (h *ProfileHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.repo.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list profiles")
		http.Error(w, "Failed to list profiles", http.StatusInternalServerError)
		return
	}

	if profiles == nil {
		profiles = []profile.Profile{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

// HandleGet returns one profile.
// GET /api/profiles/{id}
func (h *ProfileHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.repo.GetByID(id)
	if err != nil {
		h.log.Error().Err(err).Str("profile_id", id).Msg("Failed to fetch profile")
		http.Error(w, "Failed to fetch profile", http.StatusInternalServerError)
		return
	}
	if p == nil {
		http.Error(w, "Profile not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"profile": p})
}

// HandleUpdate replaces a profile's mutable fields.
// PUT /api/profiles/{id}
func (h *ProfileHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.repo.GetByID(id)
	if err != nil {
		h.log.Error().Err(err).Str("profile_id", id).Msg("Failed to fetch profile")
		http.Error(w, "Failed to fetch profile", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, "Profile not found", http.StatusNotFound)
		return
	}

	var p profile.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := validate.Struct(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	if err := h.repo.Update(&p); err != nil {
		h.log.Error().Err(err).Str("profile_id", id).Msg("Failed to update profile")
		http.Error(w, "Failed to update profile", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"profile": p})
}

// HandleDelete removes a profile.
// DELETE /api/profiles/{id}
func (h *ProfileHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.repo.Delete(id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Profile not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("profile_id", id).Msg("Failed to delete profile")
		http.Error(w, "Failed to delete profile", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"message": "Profile deleted"})
}

// HandleAssessment returns the risk assessment derived from a profile.
// GET /api/profiles/{id}/assessment
func (h *ProfileHandlers) HandleAssessment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.repo.GetByID(id)
	if err != nil {
		h.log.Error().Err(err).Str("profile_id", id).Msg("Failed to fetch profile")
		http.Error(w, "Failed to fetch profile", http.StatusInternalServerError)
		return
	}
	if p == nil {
		http.Error(w, "Profile not found", http.StatusNotFound)
		return
	}

	assessment := profile.Assess(p)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"profile_id": p.ID,
		"assessment": assessment,
	})
}
