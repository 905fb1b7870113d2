// Package handlers exposes advisory sessions over HTTP and streams
// per-session pipeline events over WebSocket.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/advisor"
)

const (
	// wsWriteWait bounds a single WebSocket write.
	wsWriteWait = 10 * time.Second

	// wsBuffer is the per-connection event queue. A slow reader drops
	// events rather than blocking the bus.
	wsBuffer = 64
)

// sessionEventTypes are the bus events streamed over a session socket.
var sessionEventTypes = []events.EventType{
	events.SessionStarted,
	events.StageStarted,
	events.SessionProgress,
	events.SessionCompleted,
	events.SessionFailed,
}

// AdvisorHandlers serves session management and the per-session stream.
type AdvisorHandlers struct {
	service *advisor.Service
	events  *events.Manager
	log     zerolog.Logger
}

// NewAdvisorHandlers creates a new advisor handlers instance
func NewAdvisorHandlers(service *advisor.Service, evts *events.Manager, log zerolog.Logger) *AdvisorHandlers {
	return &AdvisorHandlers{
		service: service,
		events:  evts,
		log:     log.With().Str("module", "advisor_handlers").Logger(),
	}
}

// HandleCreateSession starts an advisory run for a profile.
// POST /api/advisor/sessions
func (h *AdvisorHandlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProfileID string `json:"profile_id"`
		TopN      int    `json:"top_n,omitempty"`
		Strategy  string `json:"strategy,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProfileID == "" {
		http.Error(w, "profile_id is required", http.StatusBadRequest)
		return
	}

	session, err := h.service.Start(req.ProfileID, advisor.RunOptions{
		TopN:     req.TopN,
		Strategy: req.Strategy,
	})
	if err != nil {
		switch {
		case errors.Is(err, advisor.ErrProfileNotFound):
			http.Error(w, "Profile not found", http.StatusNotFound)
		case errors.Is(err, advisor.ErrSessionActive):
			http.Error(w, "An advisory session is already active for this profile", http.StatusConflict)
		default:
			h.log.Error().Err(err).Str("profile_id", req.ProfileID).Msg("Failed to start session")
			http.Error(w, "Failed to start session", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"session": session})
}

// HandleListSessions returns all sessions, newest first.
// GET /api/advisor/sessions
func (h *AdvisorHandlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list sessions")
		http.Error(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}

	if sessions == nil {
		sessions = []advisor.Session{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// HandleGetSession returns one session, embedding the recommendation
// once the run has produced it.
// GET /api/advisor/sessions/{id}
func (h *AdvisorHandlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, err := h.service.Get(id)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", id).Msg("Failed to fetch session")
		http.Error(w, "Failed to fetch session", http.StatusInternalServerError)
		return
	}
	if session == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{"session": session}
	if session.RecommendationID != "" {
		rec, err := h.service.Recommendation(session.RecommendationID)
		if err != nil {
			h.log.Warn().Err(err).Str("session_id", id).Msg("Failed to fetch recommendation")
		} else if rec != nil {
			response["recommendation"] = rec
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// HandleSessionWS streams a session's pipeline events over WebSocket.
// The first frame is a snapshot of the current session state; the
// stream closes after the terminal event.
// GET /api/advisor/sessions/{id}/ws
func (h *AdvisorHandlers) HandleSessionWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, err := h.service.Get(id)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", id).Msg("Failed to fetch session")
		http.Error(w, "Failed to fetch session", http.StatusInternalServerError)
		return
	}
	if session == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	// Subscribe before the handshake so events fired during the
	// upgrade are buffered, not lost.
	eventCh := make(chan *events.Event, wsBuffer)
	unsubscribe := h.subscribeSession(id, eventCh)
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The dashboard may be served from another origin; the API
		// carries no cookie credentials to protect.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", id).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()

	snapshot := map[string]interface{}{"type": "snapshot", "session": session}
	if err := h.writeFrame(ctx, conn, snapshot); err != nil {
		return
	}

	// A terminal session has nothing left to stream.
	if session.Terminal() {
		conn.Close(websocket.StatusNormalClosure, "session finished")
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "client disconnected")
			return
		case ev := <-eventCh:
			if err := h.writeFrame(ctx, conn, ev); err != nil {
				h.log.Debug().Err(err).Str("session_id", id).Msg("WebSocket write failed")
				return
			}
			if ev.Type == events.SessionCompleted || ev.Type == events.SessionFailed {
				conn.Close(websocket.StatusNormalClosure, "session finished")
				return
			}
		}
	}
}

// subscribeSession forwards bus events for one session into ch and
// returns the teardown.
func (h *AdvisorHandlers) subscribeSession(sessionID string, ch chan<- *events.Event) func() {
	type subscription struct {
		eventType events.EventType
		id        int
	}

	bus := h.events.Bus()
	subs := make([]subscription, 0, len(sessionEventTypes))
	for _, eventType := range sessionEventTypes {
		id := bus.Subscribe(eventType, func(ev *events.Event) {
			if ev.Data == nil || ev.Data["session_id"] != sessionID {
				return
			}
			select {
			case ch <- ev:
			default:
				// Slow consumer, drop rather than block the bus.
			}
		})
		subs = append(subs, subscription{eventType: eventType, id: id})
	}

	return func() {
		for _, sub := range subs {
			bus.Unsubscribe(sub.eventType, sub.id)
		}
	}
}

// writeFrame writes one JSON text frame under a bounded deadline.
func (h *AdvisorHandlers) writeFrame(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, wsWriteWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
