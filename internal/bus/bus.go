// Package bus is the in-process observability tap: components publish
// copies of what they do under dotted namespaces ("presence.", "dispatch.",
// "gateway.", "daemon.") and collectors subscribe by prefix. Delivery is
// best-effort; a slow subscriber drops events rather than blocking a
// publisher.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one published occurrence.
type Event struct {
	Kind    string
	At      time.Time
	Payload any
}

// Bus is an in-process publish/subscribe bus with namespace-prefix filtering.
type Bus struct {
	mu    sync.RWMutex
	subs  map[int]*subscription
	next  int
	drops atomic.Uint64
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish stamps and delivers an event to all subscribers whose namespace
// is a prefix of kind. Never blocks; full subscribers miss the event.
func (b *Bus) Publish(kind string, payload any) {
	evt := Event{Kind: kind, At: time.Now(), Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				b.drops.Add(1)
			}
		}
	}
}

// Subscribe returns a channel receiving events matching the namespace
// prefix, plus an unsubscribe function. bufSize controls the channel buffer.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Drops returns the number of events dropped on full subscriber buffers.
func (b *Bus) Drops() uint64 {
	return b.drops.Load()
}
