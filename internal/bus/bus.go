package bus

import (
	"sync"
	"sync/atomic"

	"github.com/cosmo-home/cosmocore/internal/entity"
)

// defaultBufferSize is the per-subscriber backlog when none is configured.
const defaultBufferSize = 256

// Logger interface for bus logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Bus fans state-transition events out to subscribers.
//
// Publish never fails and never blocks on a lossy subscriber: each
// subscription has a bounded backlog and, on overflow, drops its own
// oldest buffered event while counting the loss. Subscribers that cannot
// tolerate gaps opt into blocking mode, which instead applies
// backpressure to the publisher.
//
// A late subscriber never sees events published before it joined.
type Bus struct {
	mu         sync.RWMutex
	subs       map[*Subscription]struct{}
	bufferSize int
	logger     Logger
}

// New creates a Bus with the given default per-subscriber buffer size.
// A size below 1 falls back to the built-in default.
func New(bufferSize int, logger Logger) *Bus {
	if bufferSize < 1 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bus{
		subs:       make(map[*Subscription]struct{}),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Publish delivers the event to every matching subscription.
// Implements entity.Publisher.
//
// Callers publishing for the same entity must already be serialized (the
// registry publishes inside its per-entity lock); the bus preserves that
// arrival order per subscriber.
func (b *Bus) Publish(event entity.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		sub.deliver(event)
	}
}

// Subscribe registers a new subscription. The returned Subscription
// receives every subsequently published event that matches the filter.
// Callers must Close the subscription when done.
func (b *Bus) Subscribe(filter Filter, opts ...SubscribeOption) *Subscription {
	sub := &Subscription{
		bus:    b,
		filter: filter,
		done:   make(chan struct{}),
	}

	size := b.bufferSize
	for _, opt := range opts {
		opt(sub, &size)
	}
	sub.ch = make(chan entity.Event, size)

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// TotalDropped sums the dropped-event counters across all active
// subscriptions.
func (b *Bus) TotalDropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var total uint64
	for sub := range b.subs {
		total += sub.Dropped()
	}
	return total
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// SubscribeOption customizes a subscription.
type SubscribeOption func(*Subscription, *int)

// WithBlocking switches the subscription to backpressure mode: when its
// buffer is full, Publish blocks until the subscriber drains instead of
// dropping events. Use only for consumers that must not miss events and
// are known to keep up.
func WithBlocking() SubscribeOption {
	return func(s *Subscription, _ *int) {
		s.blocking = true
	}
}

// WithBufferSize overrides the bus default backlog for this subscription.
func WithBufferSize(n int) SubscribeOption {
	return func(_ *Subscription, size *int) {
		if n > 0 {
			*size = n
		}
	}
}

// Subscription is one subscriber's lazy, conceptually infinite sequence
// of events. Not restartable: closing it discards the backlog.
//
// Consume with a select over Events() and Done():
//
//	for {
//		select {
//		case e := <-sub.Events():
//			handle(e)
//		case <-sub.Done():
//			return
//		}
//	}
type Subscription struct {
	bus    *Bus
	filter Filter
	ch     chan entity.Event
	done   chan struct{}

	blocking bool
	dropped  atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// Events returns the receive channel for this subscription.
func (s *Subscription) Events() <-chan entity.Event {
	return s.ch
}

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped returns how many events this subscription has lost to backlog
// overflow. Always zero for blocking subscriptions.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription from the bus. Idempotent.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.bus.remove(s)
}

// deliver hands one event to the subscription.
func (s *Subscription) deliver(event entity.Event) {
	if s.blocking {
		// Backpressure mode: wait for the subscriber unless it is closing.
		select {
		case s.ch <- event:
		case <-s.done:
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for {
		select {
		case s.ch <- event:
			return
		default:
		}
		// Buffer full: drop our own oldest buffered event and retry.
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}
