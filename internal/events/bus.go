package events

import (
	"sync"
	"time"
)

// Handler receives events published on the bus.
// Handlers run on the emitter's goroutine and must not block;
// slow consumers buffer through their own channels.
type Handler func(event *Event)

// Bus is an in-process publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[int]Handler
	nextID   int
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType]map[int]Handler),
	}
}

// Subscribe registers a handler for an event type and returns a
// subscription id for Unsubscribe.
func (b *Bus) Subscribe(eventType EventType, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int]Handler)
	}
	b.handlers[eventType][id] = handler

	return id
}

// Unsubscribe removes a subscription. Safe to call with an unknown id.
func (b *Bus) Unsubscribe(eventType EventType, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.handlers[eventType]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.handlers, eventType)
		}
	}
}

// Emit builds an event and dispatches it to all subscribers of its type.
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	b.Publish(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	})
}

// Publish dispatches an already-built event to all subscribers of its type.
func (b *Bus) Publish(event *Event) {
	// Copy handlers under the read lock, invoke outside it so a handler
	// can subscribe or unsubscribe without deadlocking.
	b.mu.RLock()
	subs := b.handlers[event.Type]
	handlers := make([]Handler, 0, len(subs))
	for _, h := range subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// SubscriberCount returns the number of handlers for an event type.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
