package hub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/roman-kulish/ground-control/internal/telemetry"
)

// DefaultSubscriberBuffer is the per-subscriber event queue length.
const DefaultSubscriberBuffer = 256

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// Internal marks a subscription as a server-side consumer, e.g. the flight
// recorder. Internal subscriptions do not count as viewers for the
// stop-on-last-disconnect policy.
func Internal() SubscribeOption {
	return func(s *Subscription) {
		s.internal = true
	}
}

// WithBuffer overrides the event queue length of a subscription.
func WithBuffer(size int) SubscribeOption {
	return func(s *Subscription) {
		if size > 0 {
			s.buffer = size
		}
	}
}

// Subscription is one consumer of the hub's event stream. Events are
// delivered in publish order; when the queue is full new events are dropped
// for this subscriber only.
type Subscription struct {
	id       uuid.UUID
	events   chan telemetry.Event
	buffer   int
	internal bool
	dropped  atomic.Uint64

	once  sync.Once
	close func(*Subscription)
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string {
	return s.id.String()
}

// Events returns the event channel. It is closed by Close or when the hub
// shuts down.
func (s *Subscription) Events() <-chan telemetry.Event {
	return s.events
}

// Dropped returns the number of events discarded because the queue was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.close(s)
	})
}

// broadcaster fans events out to subscriptions without ever blocking the
// publisher.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[uuid.UUID]*Subscription)}
}

// add registers s. It reports false when the broadcaster has been closed.
func (b *broadcaster) add(s *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	b.subs[s.id] = s

	return true
}

// remove unregisters s and closes its channel. It returns the number of
// external subscriptions left.
func (b *broadcaster) remove(s *Subscription) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[s.id]; ok {
		delete(b.subs, s.id)
		close(s.events)
	}

	return b.externalLocked()
}

func (b *broadcaster) publish(ev telemetry.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published.Add(1)

	for _, s := range b.subs {
		select {
		case s.events <- ev:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

func (b *broadcaster) counts() (total, external int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs), b.externalLocked()
}

func (b *broadcaster) externalLocked() int {
	var n int
	for _, s := range b.subs {
		if !s.internal {
			n++
		}
	}
	return n
}

// close closes every subscription channel and rejects new subscriptions.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.events)
	}
}
