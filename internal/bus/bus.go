// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// EventType identifies different event types
type EventType string

// Event types published by the conversation engine
const (
	EventTypeStateChanged  EventType = "conversation.state_changed"
	EventTypeTranscript    EventType = "conversation.transcript"
	EventTypeResponse      EventType = "conversation.response"
	EventTypeNotice        EventType = "conversation.notice"
	EventTypeTurnCompleted EventType = "conversation.turn_completed"
)

// AllEventTypes lists every event type the engine publishes.
var AllEventTypes = []EventType{
	EventTypeStateChanged,
	EventTypeTranscript,
	EventTypeResponse,
	EventTypeNotice,
	EventTypeTurnCompleted,
}

// Event represents a bus event
type Event struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	Time time.Time      `json:"time"`
}

// Handler is a function that handles events
type Handler func(Event)

const queueSize = 256

// EventBus is a simple pub/sub event bus. Publish is asynchronous but
// handlers observe events in publish order.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	queue     chan Event
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	log       zerolog.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(log zerolog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
		queue:    make(chan Event, queueSize),
		done:     make(chan struct{}),
		log:      log,
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

// Publish queues an event for delivery. Events published after Close are dropped.
func (b *EventBus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	b.startOnce.Do(func() { go b.dispatch() })

	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.queue <- event:
	case <-b.done:
	default:
		b.log.Warn().Str("type", string(event.Type)).Msg("Event queue full, dropping event")
	}
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	var wg conc.WaitGroup
	for _, handler := range b.snapshot(event.Type) {
		h := handler
		wg.Go(func() { h(event) })
	}
	if r := wg.WaitAndRecover(); r != nil {
		b.log.Error().Str("type", string(event.Type)).Interface("panic", r.Value).Msg("Event handler panicked")
	}
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
}

// Close stops delivery of queued events.
func (b *EventBus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *EventBus) dispatch() {
	for {
		select {
		case <-b.done:
			return
		case ev := <-b.queue:
			for _, h := range b.snapshot(ev.Type) {
				b.deliver(h, ev)
			}
		}
	}
}

func (b *EventBus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("type", string(ev.Type)).Interface("panic", r).Msg("Event handler panicked")
		}
	}()
	h(ev)
}

func (b *EventBus) snapshot(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[t]))
	copy(handlers, b.handlers[t])
	return handlers
}
