// Package events provides the in-process event bus and typed event payloads.
package events

// EventType represents different event types
type EventType string

const (
	// Advisory session lifecycle
	SessionStarted   EventType = "SESSION_STARTED"
	StageStarted     EventType = "STAGE_STARTED"
	SessionProgress  EventType = "SESSION_PROGRESS"
	SessionCompleted EventType = "SESSION_COMPLETED"
	SessionFailed    EventType = "SESSION_FAILED"

	// Universe and scoring
	UniverseImported    EventType = "UNIVERSE_IMPORTED"
	PricesImported      EventType = "PRICES_IMPORTED"
	ScoresUpdated       EventType = "SCORES_UPDATED"
	ScreeningCompleted  EventType = "SCREENING_COMPLETED"
	RecommendationReady EventType = "RECOMMENDATION_READY"
	RegimeChanged       EventType = "REGIME_CHANGED"

	// System
	SettingsChanged EventType = "SETTINGS_CHANGED"
	JobStarted      EventType = "JOB_STARTED"
	JobCompleted    EventType = "JOB_COMPLETED"
	JobFailed       EventType = "JOB_FAILED"
	ErrorOccurred   EventType = "ERROR_OCCURRED"
)

// AllTypes lists every event type streaming clients can subscribe to.
var AllTypes = []EventType{
	SessionStarted,
	StageStarted,
	SessionProgress,
	SessionCompleted,
	SessionFailed,
	UniverseImported,
	PricesImported,
	ScoresUpdated,
	ScreeningCompleted,
	RecommendationReady,
	RegimeChanged,
	SettingsChanged,
	JobStarted,
	JobCompleted,
	JobFailed,
	ErrorOccurred,
}
