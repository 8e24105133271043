// Package event provides a small in-process notification bus.
//
// Design principles:
// - Each event type is a separate Go type for type safety
// - Listeners are invoked synchronously on the emitting goroutine
// - A panicking or failing listener never affects other listeners or the
//   operation that emitted the event
package event

import (
	"log/slog"
	"sync"
)

// Event is the interface all event types must implement.
type Event interface {
	// EventName returns the unique name for this event type (e.g., "workspace.message")
	EventName() string
}

// Listener is a callback function for handling events.
type Listener func(Event)

// Emitter manages event subscriptions and dispatching. The zero value is not
// usable; construct with NewEmitter and share one instance per process.
type Emitter struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[string]map[int]Listener // eventName -> id -> listener
	all       map[int]Listener            // listeners for all events
	logger    *slog.Logger
}

// NewEmitter creates a new event emitter.
func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{
		listeners: make(map[string]map[int]Listener),
		all:       make(map[int]Listener),
		logger:    logger,
	}
}

// On subscribes to a specific event type.
// Returns an unsubscribe function.
func (e *Emitter) On(eventName string, fn Listener) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	if e.listeners[eventName] == nil {
		e.listeners[eventName] = make(map[int]Listener)
	}
	e.listeners[eventName][id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners[eventName], id)
	}
}

// OnAny subscribes to all events.
func (e *Emitter) OnAny(fn Listener) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.all[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.all, id)
	}
}

// Emit dispatches an event to all matching listeners. Listener failures are
// contained per listener: a panic is logged and the remaining listeners still
// run, so emitting is always safe from an operation's success path.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	// Copy listeners to avoid holding the lock during callbacks.
	fns := make([]Listener, 0, len(e.listeners[ev.EventName()])+len(e.all))
	for _, fn := range e.listeners[ev.EventName()] {
		fns = append(fns, fn)
	}
	for _, fn := range e.all {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		e.dispatch(ev, fn)
	}
}

func (e *Emitter) dispatch(ev Event, fn Listener) {
	defer func() {
		if r := recover(); r != nil && e.logger != nil {
			e.logger.Error("event listener panicked", "event", ev.EventName(), "panic", r)
		}
	}()
	fn(ev)
}
