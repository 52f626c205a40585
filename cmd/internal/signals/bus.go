// Package signals is the process-wide named-signal bus between the network
// layer and the application shell.
package signals

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Signal names (public surface of the access layer).
const (
	AuthFailed                = "auth:failed"
	AuthLogout                = "auth:logout"
	RealtimeNewNotification   = "realtime:new_notification"
	RealtimeUnreadCountUpdate = "realtime:unread_count_update"
	RealtimeState             = "realtime:state"
)

// Signal is one published event.
type Signal struct {
	Name    string
	Reason  string
	Payload json.RawMessage
	At      time.Time
}

// Handler receives signals. Handlers run on the publisher's goroutine.
type Handler func(Signal)

// Bus is a minimal synchronous pub/sub keyed by signal name.
//
// Concurrency guarantees:
// - Subscribe/unsubscribe are safe under concurrent Publish.
// - Publish dispatches to a snapshot, so a handler may unsubscribe itself.
// - A panicking handler is recovered and logged; remaining handlers still run.
type Bus struct {
	log *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler
}

// NewBus constructs a Bus. A nil logger falls back to slog.Default().
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:  log,
		subs: make(map[string]map[uint64]Handler),
	}
}

// Subscribe registers fn for name and returns its unsubscribe func.
// The returned func is idempotent.
func (b *Bus) Subscribe(name string, fn Handler) func() {
	if b == nil || fn == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	m := b.subs[name]
	if m == nil {
		m = make(map[uint64]Handler)
		b.subs[name] = m
	}
	m[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[name], id)
			if len(b.subs[name]) == 0 {
				delete(b.subs, name)
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers s to every current subscriber of s.Name.
// A zero At is stamped with the current time.
func (b *Bus) Publish(s Signal) {
	if b == nil {
		return
	}
	if s.At.IsZero() {
		s.At = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[s.Name]))
	for _, h := range b.subs[s.Name] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, s)
	}
}

// Subscribers returns the number of handlers registered for name.
func (b *Bus) Subscribers(name string) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

func (b *Bus) dispatch(h Handler, s Signal) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("signals.handler.panic", "signal", s.Name, "panic", r)
		}
	}()
	h(s)
}
