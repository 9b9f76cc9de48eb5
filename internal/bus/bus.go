// Package bus provides the synchronous event channel that decouples the
// server manager from its observers (CLI, tracker, external callers).
package bus

import (
	"log/slog"
	"reflect"
	"sync"
)

// Handler receives one event payload. Handlers run synchronously on the
// emitting goroutine, in registration order.
type Handler func(payload any)

// EventBus maps topics to ordered handler lists.
//
// Registration during Emit takes effect on the next Emit; removal during
// Emit is honoured for handlers not yet called in that delivery. A handler
// that panics is isolated: the panic is logged and delivery continues.
type EventBus struct {
	mu     sync.Mutex
	topics map[string][]*entry
}

type entry struct {
	fn      Handler
	removed bool
}

func NewEventBus() *EventBus {
	return &EventBus{topics: make(map[string][]*entry)}
}

// On appends handler to the topic's list. Duplicate registrations are allowed.
// The returned entry token is what Off matches on, so callers pass the same
// function value they registered.
func (b *EventBus) On(topic string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = append(b.topics[topic], &entry{fn: fn})
}

// Off removes the first live registration of fn on topic, if any.
func (b *EventBus) Off(topic string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.topics[topic] {
		if !e.removed && sameFunc(e.fn, fn) {
			e.removed = true
			return
		}
	}
}

// Emit delivers payload to every handler registered on topic at call time.
func (b *EventBus) Emit(topic string, payload any) {
	b.mu.Lock()
	snapshot := make([]*entry, len(b.topics[topic]))
	copy(snapshot, b.topics[topic])
	b.compact(topic)
	b.mu.Unlock()

	for _, e := range snapshot {
		b.mu.Lock()
		skip := e.removed
		b.mu.Unlock()
		if skip {
			continue
		}
		deliver(topic, e.fn, payload)
	}
}

func deliver(topic string, fn Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus: handler panic", "topic", topic, "panic", r)
		}
	}()
	fn(payload)
}

// compact drops removed entries; called with b.mu held.
func (b *EventBus) compact(topic string) {
	live := b.topics[topic][:0]
	for _, e := range b.topics[topic] {
		if !e.removed {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		delete(b.topics, topic)
		return
	}
	b.topics[topic] = live
}

// sameFunc reports whether two handler values refer to the same function.
// Function values are not comparable with ==, so compare code pointers.
func sameFunc(a, b Handler) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// HandlerCount returns the number of live handlers on topic.
func (b *EventBus) HandlerCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.topics[topic] {
		if !e.removed {
			n++
		}
	}
	return n
}
