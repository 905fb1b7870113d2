package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// SessionStartedData contains data for SessionStarted events
type SessionStartedData struct {
	SessionID string `json:"session_id"`
	ProfileID string `json:"profile_id"`
}

// EventType returns the event type for SessionStartedData
func (d *SessionStartedData) EventType() EventType {
	return SessionStarted
}

// StageStartedData contains data for StageStarted events
type StageStartedData struct {
	SessionID string `json:"session_id"`
	Stage     string `json:"stage"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
}

// EventType returns the event type for StageStartedData
func (d *StageStartedData) EventType() EventType {
	return StageStarted
}

// SessionProgressData contains data for SessionProgress events
type SessionProgressData struct {
	SessionID string  `json:"session_id"`
	Stage     string  `json:"stage"`
	Percent   float64 `json:"percent"`
	Message   string  `json:"message,omitempty"`
}

// EventType returns the event type for SessionProgressData
func (d *SessionProgressData) EventType() EventType {
	return SessionProgress
}

// SessionCompletedData contains data for SessionCompleted events
type SessionCompletedData struct {
	SessionID        string  `json:"session_id"`
	RecommendationID string  `json:"recommendation_id,omitempty"`
	DurationSeconds  float64 `json:"duration_seconds"`
}

// EventType returns the event type for SessionCompletedData
func (d *SessionCompletedData) EventType() EventType {
	return SessionCompleted
}

// SessionFailedData contains data for SessionFailed events
type SessionFailedData struct {
	SessionID string `json:"session_id"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

// EventType returns the event type for SessionFailedData
func (d *SessionFailedData) EventType() EventType {
	return SessionFailed
}

// UniverseImportedData contains data for UniverseImported events
type UniverseImportedData struct {
	Securities   int `json:"securities"`
	Fundamentals int `json:"fundamentals"`
	Sentiment    int `json:"sentiment"`
}

// EventType returns the event type for UniverseImportedData
func (d *UniverseImportedData) EventType() EventType {
	return UniverseImported
}

// PricesImportedData contains data for PricesImported events
type PricesImportedData struct {
	Symbol string `json:"symbol"`
	Days   int    `json:"days"`
}

// EventType returns the event type for PricesImportedData
func (d *PricesImportedData) EventType() EventType {
	return PricesImported
}

// ScoresUpdatedData contains data for ScoresUpdated events
type ScoresUpdatedData struct {
	Count      int    `json:"count"`
	Regime     string `json:"regime,omitempty"`
	ComputedAt string `json:"computed_at"`
}

// EventType returns the event type for ScoresUpdatedData
func (d *ScoresUpdatedData) EventType() EventType {
	return ScoresUpdated
}

// ScreeningCompletedData contains data for ScreeningCompleted events
type ScreeningCompletedData struct {
	Candidates  int            `json:"candidates"`
	Rejected    int            `json:"rejected"`
	LayerCounts map[string]int `json:"layer_counts,omitempty"`
}

// EventType returns the event type for ScreeningCompletedData
func (d *ScreeningCompletedData) EventType() EventType {
	return ScreeningCompleted
}

// RecommendationReadyData contains data for RecommendationReady events
type RecommendationReadyData struct {
	RecommendationID string `json:"recommendation_id"`
	SessionID        string `json:"session_id"`
	ProfileID        string `json:"profile_id"`
	Positions        int    `json:"positions"`
}

// EventType returns the event type for RecommendationReadyData
func (d *RecommendationReadyData) EventType() EventType {
	return RecommendationReady
}

// RegimeChangedData contains data for RegimeChanged events
type RegimeChangedData struct {
	Regime string  `json:"regime"`
	Score  float64 `json:"score"`
}

// EventType returns the event type for RegimeChangedData
func (d *RegimeChangedData) EventType() EventType {
	return RegimeChanged
}

// SettingsChangedData contains data for SettingsChanged events
type SettingsChangedData struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// EventType returns the event type for SettingsChangedData
func (d *SettingsChangedData) EventType() EventType {
	return SettingsChanged
}

// JobStatusData contains data for job lifecycle events
type JobStatusData struct {
	JobName         string  `json:"job_name"`
	Status          string  `json:"status"` // "started", "completed", "failed"
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// EventType returns the event type for JobStatusData
// The actual event type is determined by the Status field
func (d *JobStatusData) EventType() EventType {
	switch d.Status {
	case "completed":
		return JobCompleted
	case "failed":
		return JobFailed
	default:
		return JobStarted
	}
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// EventWithData represents an event with typed data
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// MarshalJSON customizes JSON serialization for EventWithData
func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for EventWithData
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) > 0 {
		var eventData EventData
		switch aux.Type {
		case SessionStarted:
			eventData = &SessionStartedData{}
		case StageStarted:
			eventData = &StageStartedData{}
		case SessionProgress:
			eventData = &SessionProgressData{}
		case SessionCompleted:
			eventData = &SessionCompletedData{}
		case SessionFailed:
			eventData = &SessionFailedData{}
		case UniverseImported:
			eventData = &UniverseImportedData{}
		case PricesImported:
			eventData = &PricesImportedData{}
		case ScoresUpdated:
			eventData = &ScoresUpdatedData{}
		case ScreeningCompleted:
			eventData = &ScreeningCompletedData{}
		case RecommendationReady:
			eventData = &RecommendationReadyData{}
		case RegimeChanged:
			eventData = &RegimeChangedData{}
		case SettingsChanged:
			eventData = &SettingsChangedData{}
		case JobStarted, JobCompleted, JobFailed:
			eventData = &JobStatusData{}
		case ErrorOccurred:
			eventData = &ErrorEventData{}
		default:
			var rawData map[string]interface{}
			if err := json.Unmarshal(aux.Data, &rawData); err != nil {
				return err
			}
			eventData = &GenericEventData{Type: aux.Type, Data: rawData}
		}

		if eventData != nil {
			if _, ok := eventData.(*GenericEventData); !ok {
				if err := json.Unmarshal(aux.Data, eventData); err != nil {
					return err
				}
			}
			e.Data = eventData
		}
	}

	return nil
}

// GenericEventData is a fallback for events that don't have a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON customizes JSON deserialization for GenericEventData
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
