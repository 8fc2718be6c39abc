// Package bus provides an in-process event bus for speech lifecycle events
package bus

import (
	"sync"
	"time"
)

// EventType identifies different event types
type EventType string

// Speech lifecycle events
const (
	EventTypeSpeechRequested    EventType = "speech.requested"
	EventTypeSpeechStarted      EventType = "speech.started"
	EventTypeSpeechStopped      EventType = "speech.stopped"
	EventTypeSpeechFinished     EventType = "speech.finished"
	EventTypeSpeechFailed       EventType = "speech.failed"
	EventTypeSpeechSuperseded   EventType = "speech.superseded"
	EventTypeSpeechStateChanged EventType = "speech.state_changed"

	// Rig events
	EventTypeMissingTarget EventType = "rig.missing_target"

	// Config events
	EventTypeConfigReloaded EventType = "config.reloaded"
)

// AllEventTypes lists every type published by this module.
var AllEventTypes = []EventType{
	EventTypeSpeechRequested,
	EventTypeSpeechStarted,
	EventTypeSpeechStopped,
	EventTypeSpeechFinished,
	EventTypeSpeechFailed,
	EventTypeSpeechSuperseded,
	EventTypeSpeechStateChanged,
	EventTypeMissingTarget,
	EventTypeConfigReloaded,
}

// Event represents a bus event
type Event struct {
	Type EventType      `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, data map[string]any) Event {
	return Event{Type: t, Time: time.Now(), Data: data}
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// Publish sends an event to all subscribed handlers without waiting.
// A nil bus drops the event.
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	for _, handler := range b.snapshot(event.Type) {
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	if b == nil {
		return
	}
	var wg sync.WaitGroup
	for _, handler := range b.snapshot(event.Type) {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

func (b *EventBus) snapshot(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[t]))
	copy(handlers, b.handlers[t])
	return handlers
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
}
