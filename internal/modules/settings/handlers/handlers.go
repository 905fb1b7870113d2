// Package handlers exposes the runtime settings over HTTP.
package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/settings"
)

// SettingsHandlers serves the settings endpoints.
type SettingsHandlers struct {
	service *settings.Service
	events  *events.Manager
	log     zerolog.Logger
}

// NewSettingsHandlers creates settings handlers.
func NewSettingsHandlers(service *settings.Service, evts *events.Manager, log zerolog.Logger) *SettingsHandlers {
	return &SettingsHandlers{
		service: service,
		events:  evts,
		log:     log.With().Str("module", "settings_handlers").Logger(),
	}
}

// HandleGetAll handles GET /api/settings.
func (h *SettingsHandlers) HandleGetAll(w http.ResponseWriter, r *http.Request) {
	all, err := h.service.GetAll()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get settings")
		http.Error(w, "Failed to get settings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(all)
}

// HandleUpdateAll handles PUT /api/settings. The body is a map of
// setting keys to values; all keys are validated before any persist so
// a bad batch changes nothing.
func (h *SettingsHandlers) HandleUpdateAll(w http.ResponseWriter, r *http.Request) {
	var updates map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(updates) == 0 {
		http.Error(w, "No settings provided", http.StatusBadRequest)
		return
	}

	keys := make([]string, 0, len(updates))
	for key := range updates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := h.service.Validate(key, updates[key]); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	for _, key := range keys {
		if err := h.service.Set(key, updates[key]); err != nil {
			h.log.Error().Err(err).Str("key", key).Msg("Failed to update setting")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.emitChanged(key, updates[key])
	}

	all, err := h.service.GetAll()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to reload settings after update")
		http.Error(w, "Failed to reload settings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(all)
}

// HandleGet handles GET /api/settings/{key}.
func (h *SettingsHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	value, err := h.service.Get(key)
	if err != nil {
		if strings.Contains(err.Error(), "unknown setting") {
			http.Error(w, "Unknown setting", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("key", key).Msg("Failed to get setting")
		http.Error(w, "Failed to get setting", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

// HandleUpdate handles PUT /api/settings/{key}.
func (h *SettingsHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var update settings.SettingUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Set(key, update.Value); err != nil {
		if strings.Contains(err.Error(), "unknown setting") {
			http.Error(w, "Unknown setting", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.emitChanged(key, update.Value)

	value, err := h.service.Get(key)
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("Failed to reload setting after update")
		http.Error(w, "Failed to reload setting", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

// HandleReset handles DELETE /api/settings/{key}, reverting the key to
// its default value.
func (h *SettingsHandlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := h.service.Reset(key); err != nil {
		if strings.Contains(err.Error(), "unknown setting") {
			http.Error(w, "Unknown setting", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("key", key).Msg("Failed to reset setting")
		http.Error(w, "Failed to reset setting", http.StatusInternalServerError)
		return
	}

	value, err := h.service.Get(key)
	if err != nil {
		http.Error(w, "Failed to reload setting", http.StatusInternalServerError)
		return
	}
	h.emitChanged(key, value)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

func (h *SettingsHandlers) emitChanged(key string, value interface{}) {
	if h.events == nil {
		return
	}
	h.events.EmitTyped(events.SettingsChanged, "settings", &events.SettingsChangedData{
		Key:   key,
		Value: value,
	})
}
