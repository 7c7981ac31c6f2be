package core

import (
	"log/slog"
	"sync"
)

// EventType identifies a task lifecycle event.
type EventType string

const (
	EventTaskCreated   EventType = "task_created"
	EventTaskUpdated   EventType = "task_updated"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventTaskCancelled EventType = "task_cancelled"
)

// Event is the payload delivered to lifecycle listeners. Task is a snapshot
// of the record after the mutation; Error carries the failure reason for
// task_failed events.
type Event struct {
	Type   EventType  `json:"type"`
	TaskID string     `json:"task_id"`
	Task   *AgentTask `json:"task,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Listener receives lifecycle events. Delivery is synchronous on the
// goroutine that performed the mutation.
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

// eventBus fans events out to registered listeners in registration order.
// A panicking listener is logged and skipped; it cannot stop delivery to
// later listeners or reach the emitter.
type eventBus struct {
	mu        sync.RWMutex
	nextID    int
	listeners []listenerEntry
	logger    *slog.Logger
}

func newEventBus(logger *slog.Logger) *eventBus {
	return &eventBus{logger: logger}
}

// subscribe registers fn and returns a handle for unsubscribe.
func (b *eventBus) subscribe(fn Listener) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.listeners = append(b.listeners, listenerEntry{id: b.nextID, fn: fn})
	return b.nextID
}

// unsubscribe removes the listener with the given handle. Removing an
// unknown handle is a no-op.
func (b *eventBus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	filtered := b.listeners[:0]
	for _, e := range b.listeners {
		if e.id != id {
			filtered = append(filtered, e)
		}
	}
	b.listeners = filtered
}

// emit invokes every listener synchronously, in registration order.
// Listeners are collected under the lock but invoked outside it so a
// listener may subscribe or unsubscribe without deadlocking.
func (b *eventBus) emit(ev Event) {
	b.mu.RLock()
	targets := make([]listenerEntry, len(b.listeners))
	copy(targets, b.listeners)
	b.mu.RUnlock()

	for _, e := range targets {
		b.safeInvoke(e, ev)
	}
}

func (b *eventBus) safeInvoke(e listenerEntry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				"listener_id", e.id, "event", string(ev.Type), "task_id", ev.TaskID, "panic", r)
		}
	}()
	e.fn(ev)
}
