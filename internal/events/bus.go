package events

import (
	"sync"
)

// DefaultBufferSize is the per-subscriber channel buffer.
const DefaultBufferSize = 100

// Bus is the process-wide broadcast channel. Delivery is best-effort:
// a subscriber that lags beyond its buffer is disconnected, not backfilled.
type Bus struct {
	mu         sync.Mutex
	subs       map[chan Event]struct{}
	bufferSize int
	closed     bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the per-subscriber buffer size.
func WithBufferSize(size int) BusOption {
	return func(b *Bus) {
		b.bufferSize = size
	}
}

// NewBus creates a broadcast bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:       make(map[chan Event]struct{}),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish broadcasts an event to every subscriber. Subscribers whose
// buffers are full are dropped and their channels closed.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Lagging subscriber: disconnect it.
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// Subscribe returns a channel receiving every published event. The channel
// is closed when the subscriber is dropped or the bus shuts down.
func (b *Bus) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Close shuts down the bus and all subscription channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}

// SubscriberCount returns the number of connected subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
