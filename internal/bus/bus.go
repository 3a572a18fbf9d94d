// Package bus is the in-process publish/subscribe layer between ingestion
// and the streaming gateway. Delivery is synchronous and ephemeral: an
// event reaches whoever is subscribed at broadcast time and nobody else.
package bus

import (
	"sync"

	"github.com/openclaw/cortex/internal/metrics"
	"github.com/openclaw/cortex/pkg/types"
)

// Handler receives broadcast events.
type Handler func(event types.Event)

// Bus distributes events to zero or more subscribers.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	metrics  *metrics.Collector
}

// New creates an event bus.
func New(collector *metrics.Collector) *Bus {
	return &Bus{
		handlers: make(map[int]Handler),
		metrics:  collector,
	}
}

// Subscribe registers a handler and returns its unsubscribe function. The
// returned function is idempotent and never affects other subscribers.
func (b *Bus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Broadcast invokes every currently registered handler with the event, in
// unspecified order. Broadcasting with no subscribers is a no-op.
func (b *Bus) Broadcast(event types.Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.BusEvents.WithLabelValues(event.Type).Inc()
	}

	for _, h := range handlers {
		h(event)
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
