package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeAndEmit(t *testing.T) {
	bus := NewBus()

	var received []*Event
	bus.Subscribe(SessionProgress, func(event *Event) {
		received = append(received, event)
	})

	bus.Emit(SessionProgress, "advisor", map[string]interface{}{
		"session_id": "abc",
		"percent":    42.0,
	})

	require.Len(t, received, 1)
	assert.Equal(t, SessionProgress, received[0].Type)
	assert.Equal(t, "advisor", received[0].Module)
	assert.Equal(t, "abc", received[0].Data["session_id"])
}

func TestBus_TypeIsolation(t *testing.T) {
	bus := NewBus()

	var progressCount, completedCount int
	bus.Subscribe(SessionProgress, func(event *Event) { progressCount++ })
	bus.Subscribe(SessionCompleted, func(event *Event) { completedCount++ })

	bus.Emit(SessionProgress, "advisor", nil)
	bus.Emit(SessionProgress, "advisor", nil)
	bus.Emit(SessionCompleted, "advisor", nil)

	assert.Equal(t, 2, progressCount, "progress handler should only see progress events")
	assert.Equal(t, 1, completedCount)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	var count int
	id := bus.Subscribe(ScoresUpdated, func(event *Event) { count++ })

	bus.Emit(ScoresUpdated, "ranking", nil)
	bus.Unsubscribe(ScoresUpdated, id)
	bus.Emit(ScoresUpdated, "ranking", nil)

	assert.Equal(t, 1, count, "unsubscribed handler should not receive events")
	assert.Equal(t, 0, bus.SubscriberCount(ScoresUpdated))
}

func TestBus_UnsubscribeUnknownID(t *testing.T) {
	bus := NewBus()
	// Must not panic
	bus.Unsubscribe(SessionStarted, 999)
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()

	var first, second int
	bus.Subscribe(JobStarted, func(event *Event) { first++ })
	bus.Subscribe(JobStarted, func(event *Event) { second++ })

	bus.Emit(JobStarted, "scheduler", nil)

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 2, bus.SubscriberCount(JobStarted))
}

func TestBus_ConcurrentEmit(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.Subscribe(SessionProgress, func(event *Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Emit(SessionProgress, "advisor", nil)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, count)
}

func TestBus_HandlerCanSubscribeDuringDispatch(t *testing.T) {
	bus := NewBus()

	var nested bool
	bus.Subscribe(SessionStarted, func(event *Event) {
		// Subscribing from inside a handler must not deadlock
		bus.Subscribe(SessionCompleted, func(event *Event) { nested = true })
	})

	done := make(chan struct{})
	go func() {
		bus.Emit(SessionStarted, "advisor", nil)
		bus.Emit(SessionCompleted, "advisor", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch deadlocked")
	}
	assert.True(t, nested)
}

func TestEvent_GetTypedData(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		check func(t *testing.T, data EventData)
	}{
		{
			name: "session progress payload",
			event: Event{
				Type: SessionProgress,
				Data: map[string]interface{}{
					"session_id": "s-1",
					"stage":      "screen_universe",
					"percent":    55.0,
					"message":    "screening universe",
				},
			},
			check: func(t *testing.T, data EventData) {
				progress, ok := data.(*SessionProgressData)
				require.True(t, ok)
				assert.Equal(t, "s-1", progress.SessionID)
				assert.Equal(t, "screen_universe", progress.Stage)
				assert.InDelta(t, 55.0, progress.Percent, 1e-9)
			},
		},
		{
			name: "session failed payload",
			event: Event{
				Type: SessionFailed,
				Data: map[string]interface{}{
					"session_id": "s-2",
					"stage":      "optimize_portfolio",
					"error":      "no feasible solution",
				},
			},
			check: func(t *testing.T, data EventData) {
				failed, ok := data.(*SessionFailedData)
				require.True(t, ok)
				assert.Equal(t, "optimize_portfolio", failed.Stage)
				assert.Equal(t, "no feasible solution", failed.Error)
			},
		},
		{
			name: "screening completed payload",
			event: Event{
				Type: ScreeningCompleted,
				Data: map[string]interface{}{
					"candidates": 12,
					"rejected":   38,
					"layer_counts": map[string]interface{}{
						"eligibility": 10,
						"quality":     20,
					},
				},
			},
			check: func(t *testing.T, data EventData) {
				screen, ok := data.(*ScreeningCompletedData)
				require.True(t, ok)
				assert.Equal(t, 12, screen.Candidates)
				assert.Equal(t, 38, screen.Rejected)
				assert.Equal(t, 20, screen.LayerCounts["quality"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.event.GetTypedData()
			require.NotNil(t, data)
			assert.Equal(t, tt.event.Type, data.EventType())
			tt.check(t, data)
		})
	}
}

func TestEvent_GetTypedData_NilData(t *testing.T) {
	event := Event{Type: SessionProgress}
	assert.Nil(t, event.GetTypedData())
}

func TestJobStatusData_EventType(t *testing.T) {
	tests := []struct {
		status       string
		expectedType EventType
	}{
		{"started", JobStarted},
		{"completed", JobCompleted},
		{"failed", JobFailed},
		{"unknown", JobStarted}, // Fallback
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			data := &JobStatusData{Status: tt.status}
			assert.Equal(t, tt.expectedType, data.EventType())
		})
	}
}

func TestEventWithData_JSONRoundTrip(t *testing.T) {
	original := &EventWithData{
		Type:      RecommendationReady,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Module:    "advisor",
		Data: &RecommendationReadyData{
			RecommendationID: "rec-1",
			SessionID:        "s-1",
			ProfileID:        "p-1",
			Positions:        8,
		},
	}

	jsonData, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), "RECOMMENDATION_READY")
	assert.Contains(t, string(jsonData), "rec-1")

	var decoded EventWithData
	require.NoError(t, json.Unmarshal(jsonData, &decoded))

	rec, ok := decoded.Data.(*RecommendationReadyData)
	require.True(t, ok, "decoded data should be typed")
	assert.Equal(t, "rec-1", rec.RecommendationID)
	assert.Equal(t, 8, rec.Positions)
}

func TestEventWithData_UnknownTypeFallsBackToGeneric(t *testing.T) {
	raw := `{"type":"SOMETHING_ELSE","timestamp":"2025-06-01T12:00:00Z","module":"x","data":{"k":"v"}}`

	var decoded EventWithData
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))

	generic, ok := decoded.Data.(*GenericEventData)
	require.True(t, ok)
	assert.Equal(t, "v", generic.Data["k"])
}
