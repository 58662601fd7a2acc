// Package event provides the synchronous in-process publish/subscribe bus
// that decouples the workflow manager from its derivative consumers.
//
// Publishers must only publish after the corresponding mutation has been
// queued for durable write, so a subscriber can never react to state that
// fails to persist. Dispatch runs in the caller's stack; subscribers doing
// heavy work must defer it behind their own debounce timers.
package event

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies the kind of event on the bus.
type Type string

const (
	ChoreClaimed     Type = "chore_claimed"
	ChoreApproved    Type = "chore_approved"
	ChoreDisapproved Type = "chore_disapproved"
	ChoreOverdue     Type = "chore_overdue"
	ChoreCreated     Type = "chore_created"
	ChoreDeleted     Type = "chore_deleted"
	DueDateChanged   Type = "due_date_changed"
	StatsRefreshed   Type = "stats_refreshed"
	GamifyRefreshed  Type = "gamify_refreshed"
)

// Event is a workflow or cache-refresh notification.
type Event struct {
	Type       Type
	ChoreID    int64
	AssigneeID int64
	ChoreName  string
	Points     int
	At         time.Time
}

// Handler receives published events synchronously.
type Handler func(Event)

// Bus fans published events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Type][]Handler
	all    []Handler
	logger *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[Type][]Handler),
		logger: logger,
	}
}

// Subscribe registers a handler for one event type. Subscriptions are
// expected to happen during wiring, before any publishing starts.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	b.subs[t] = append(b.subs[t], h)
	b.mu.Unlock()
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	b.all = append(b.all, h)
	b.mu.Unlock()
}

// Publish dispatches the event to all matching subscribers in order,
// synchronously. A panicking subscriber is logged and does not take down the
// publisher or the remaining subscribers.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Type])+len(b.all))
	handlers = append(handlers, b.subs[e.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, e)
	}
}

func (b *Bus) dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("event subscriber panicked", "type", e.Type, "panic", r)
		}
	}()
	h(e)
}
