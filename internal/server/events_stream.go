// Package server provides the HTTP server and routing for Steward.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/steward/internal/events"
	"github.com/rs/zerolog"
)

// EventsStreamHandler streams bus events to clients over Server-Sent
// Events. Clients may narrow the stream with ?types=a,b,c.
type EventsStreamHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// subscription records one bus registration so disconnects can detach it.
type subscription struct {
	eventType events.EventType
	id        int
}

// NewEventsStreamHandler creates a new events stream handler.
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream requests (SSE).
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	types, err := parseTypesFilter(r.URL.Query().Get("types"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// The stream outlives any write deadline the server might carry.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	h.log.Info().
		Int("types", len(types)).
		Msg("Client connected to event stream")

	// Buffered so a slow client drops events instead of blocking the bus.
	eventChan := make(chan *events.Event, 100)
	eventHandler := func(event *events.Event) {
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	}

	subscriptions := make([]subscription, 0, len(types))
	for _, eventType := range types {
		id := h.eventBus.Subscribe(eventType, eventHandler)
		subscriptions = append(subscriptions, subscription{eventType: eventType, id: id})
	}
	defer func() {
		for _, sub := range subscriptions {
			h.eventBus.Unsubscribe(sub.eventType, sub.id)
		}
	}()

	done := r.Context().Done()

	// Send initial connection message
	fmt.Fprintf(w, "data: %s\n\n", h.encodeEvent(map[string]interface{}{
		"type":    "connected",
		"message": "Connected to event stream",
	}))
	flusher.Flush()

	// Heartbeat ticker to keep connection alive
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			h.log.Info().Msg("Client disconnected from event stream")
			return

		case event := <-eventChan:
			eventJSON := h.encodeEvent(map[string]interface{}{
				"type":      string(event.Type),
				"module":    event.Module,
				"timestamp": event.Timestamp.Format(time.RFC3339),
				"data":      event.Data,
			})
			fmt.Fprintf(w, "data: %s\n\n", eventJSON)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprintf(w, "data: %s\n\n", h.encodeEvent(map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			}))
			flusher.Flush()
		}
	}
}

// parseTypesFilter resolves the comma separated filter into event
// types, defaulting to every known type. Unknown names are rejected so
// clients notice typos instead of waiting on a silent stream.
func parseTypesFilter(filter string) ([]events.EventType, error) {
	if strings.TrimSpace(filter) == "" {
		return events.AllTypes, nil
	}

	known := make(map[events.EventType]bool, len(events.AllTypes))
	for _, t := range events.AllTypes {
		known[t] = true
	}

	var types []events.EventType
	seen := make(map[events.EventType]bool)
	for _, raw := range strings.Split(filter, ",") {
		name := events.EventType(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if !known[name] {
			return nil, fmt.Errorf("unknown event type: %s", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		types = append(types, name)
	}
	if len(types) == 0 {
		return events.AllTypes, nil
	}
	return types, nil
}

// encodeEvent encodes an event map to JSON string.
func (h *EventsStreamHandler) encodeEvent(event map[string]interface{}) string {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}
