package client

import (
	"sort"
	"sync"
	"time"
)

// EventType identifies a session lifecycle event
type EventType string

const (
	EventLogout         EventType = "logout"
	EventSessionTimeout EventType = "session_timeout"
	EventUnauthorized   EventType = "unauthorized"
	EventTokenRefreshed EventType = "token_refreshed"
)

// Event is delivered to subscribers. Redirect is where a UI should send the
// user, if anywhere.
type Event struct {
	Type     EventType
	Reason   string
	Redirect string
	Time     time.Time
}

// Events is a synchronous observer registry. A nil *Events drops everything.
type Events struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// NewEvents creates an empty registry
func NewEvents() *Events {
	return &Events{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function that removes it
func (e *Events) Subscribe(fn func(Event)) (unsubscribe func()) {
	if e == nil {
		return func() {}
	}
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Emit delivers ev to every subscriber in subscription order
func (e *Events) Emit(ev Event) {
	if e == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	e.mu.RLock()
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), len(ids))
	for i, id := range ids {
		fns[i] = e.subs[id]
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
