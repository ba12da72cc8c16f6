// Package queue turns durable pending-message rows into cancellable,
// event-driven per-session message streams.
package queue

import "sync"

// Bus is the shared enqueue-notification primitive. Every parked
// session processor subscribes; a publish wakes all of them and each
// performs its own claim probe. Publishing never blocks.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

// NewBus creates a new notification bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan struct{})}
}

// Subscribe registers a wakeup channel. The returned cancel func must
// be called when the subscriber exits.
func (b *Bus) Subscribe() (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan struct{}, 1)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish signals every subscriber. A subscriber with a wakeup already
// buffered is skipped; it will probe anyway.
func (b *Bus) Publish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
