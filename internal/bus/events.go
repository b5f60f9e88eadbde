// Package bus is the in-process event bus used to fan session activity out to
// the REPL, the status view and tests.
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event represents a session event.
type Event struct {
	Type      string    // e.g. "session.state_changed", "log.appended"
	Source    string    // originating component
	Payload   any       // event-specific data
	Timestamp time.Time // when the event was created
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides topic-based publish/subscribe with wildcard handlers and
// a bounded history for replay.
type EventBus struct {
	handlers   map[string][]namedHandler
	nextID     uint64
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

// NewEventBus creates an EventBus keeping the last 256 events.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: 256,
	}
}

// On registers a handler for the given event type.
// Use "*" to listen to all events. Returns the handler ID for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.FormatUint(eb.nextID, 10)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Subscribe returns a channel receiving events of the given type ("*" for
// all) and a cancel func. Events are dropped when the channel is full so a
// slow reader never stalls the emitter.
func (eb *EventBus) Subscribe(eventType string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	var once sync.Once
	var closed bool
	var chMu sync.Mutex

	id := eb.On(eventType, func(e Event) {
		chMu.Lock()
		defer chMu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
			eb.logger.Warn("event subscriber full, dropping", "event", e.Type)
		}
	})
	cancel := func() {
		once.Do(func() {
			eb.Off(eventType, id)
			chMu.Lock()
			closed = true
			close(ch)
			chMu.Unlock()
		})
	}
	return ch, cancel
}

// Emit publishes an event to all registered handlers.
// Handlers are called synchronously in registration order.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Replay returns historical events matching the given type since the given time.
// Use "*" for all event types.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// HistoryLen returns the current number of events in the history buffer.
func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}

// --- Well-known event types ---
const (
	EventStateChanged  = "session.state_changed"
	EventSessionError  = "session.error"
	EventLogAppended   = "log.appended"
	EventLogCleared    = "log.cleared"
	EventUploadStarted = "upload.started"
	EventUploadDone    = "upload.done"
)
