package events

import (
	"fmt"
	"log/slog"
	"sync"
)

// Type names an event kind. The value is also the SSE event name.
type Type string

const (
	TypeTransaction Type = "transaction"
	TypeMetrics     Type = "metrics"
	TypeBenchmark   Type = "benchmark"

	// TypeHeartbeat is emitted by stream transports only, never through a Bus.
	TypeHeartbeat Type = "heartbeat"
	// TypeInit is the snapshot frame a stream transport sends on connect.
	TypeInit Type = "init"
)

// Event is a message delivered to bus subscribers.
type Event struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload"`
}

// Listener handles a published event. A returned error is logged and does not
// stop delivery to other listeners.
type Listener func(Event) error

// FailureRecorder observes listener failures. *metrics.Metrics satisfies it.
type FailureRecorder interface {
	RecordListenerFailure(eventType, reason string)
}

type subscription struct {
	id uint64
	fn Listener
}

// Bus is an in-process publish/subscribe channel. Delivery is synchronous and
// follows registration order. Late subscribers see no earlier events.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	subs     []subscription
	logger   *slog.Logger
	failures FailureRecorder
}

// NewBus creates an event bus. failures may be nil.
func NewBus(logger *slog.Logger, failures FailureRecorder) *Bus {
	return &Bus{
		logger:   logger,
		failures: failures,
	}
}

// Subscribe registers l and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: l})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			// Copy so in-progress deliveries keep their snapshot intact.
			next := make([]subscription, 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			b.subs = append(next, b.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of current subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers e to every current subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.deliver(s.fn, e); err != nil {
			b.logger.Warn("event listener failed",
				"event_type", e.Type,
				"subscriber", s.id,
				"error", err,
			)
		}
	}
}

func (b *Bus) deliver(fn Listener, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
			b.recordFailure(e.Type, "panic")
		}
	}()
	if err = fn(e); err != nil {
		b.recordFailure(e.Type, "error")
	}
	return err
}

func (b *Bus) recordFailure(t Type, reason string) {
	if b.failures != nil {
		b.failures.RecordListenerFailure(string(t), reason)
	}
}
