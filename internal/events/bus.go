package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives emitted events. Handlers run synchronously on the
// emitting goroutine; slow consumers must buffer on their own side.
type Handler func(*Event)

// Bus is the in-process event bus. Subscriptions are per event type plus
// an optional all-events subscription used by the stream handler.
type Bus struct {
	log      zerolog.Logger
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	anyAll   map[int]Handler
	nextID   int
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		log:      log.With().Str("component", "events").Logger(),
		handlers: make(map[EventType][]Handler),
		anyAll:   make(map[int]Handler),
	}
}

// Subscribe registers a handler for one event type. Typed subscriptions
// live for the process lifetime.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler for every event type and returns a
// cancel function, for per-connection stream subscribers.
func (b *Bus) SubscribeAll(handler Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.anyAll[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.anyAll, id)
	}
}

// Emit publishes a typed event to the bus and logs it.
func (b *Bus) Emit(module string, data EventData) {
	event := &Event{
		Type:      data.EventType(),
		Timestamp: time.Now().UTC(),
		Module:    module,
		Data:      data,
	}

	b.mu.RLock()
	typed := append([]Handler(nil), b.handlers[event.Type]...)
	all := make([]Handler, 0, len(b.anyAll))
	for _, h := range b.anyAll {
		all = append(all, h)
	}
	b.mu.RUnlock()

	for _, h := range typed {
		h(event)
	}
	for _, h := range all {
		h(event)
	}

	eventJSON, _ := json.Marshal(event)
	b.log.Info().
		Str("event_type", string(event.Type)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")
}
