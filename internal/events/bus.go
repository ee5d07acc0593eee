package events

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the subscription buffer used when none is given.
const DefaultCapacity = 16

// Bus fans events out to subscribers of their kind. Publish never blocks:
// each subscription buffers independently and a slow subscriber loses its
// oldest events rather than stalling the publisher.
type Bus struct {
	registry *hashmap.Map[Kind, *hashmap.Map[uint64, *Subscription]]
	nextID   atomic.Uint64
	closed   atomic.Bool
	logger   *logrus.Logger
}

// NewBus creates an empty bus. A nil logger discards output.
func NewBus(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	b := &Bus{
		registry: hashmap.New[Kind, *hashmap.Map[uint64, *Subscription]](),
		logger:   logger,
	}
	for _, k := range AllKinds {
		b.registry.Set(k, hashmap.New[uint64, *Subscription]())
	}
	return b
}

// Subscribe registers interest in kinds (all kinds when none are given).
// Capacity <= 0 selects DefaultCapacity.
func (b *Bus) Subscribe(capacity int, kinds ...Kind) *Subscription {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if len(kinds) == 0 {
		kinds = AllKinds
	}

	sub := &Subscription{
		id:    b.nextID.Add(1),
		kinds: append([]Kind(nil), kinds...),
		ch:    NewRingChannel[Event](capacity),
		bus:   b,
	}
	if b.closed.Load() {
		sub.closeChannel()
		return sub
	}

	for _, k := range sub.kinds {
		if subs, ok := b.registry.Get(k); ok {
			subs.Set(sub.id, sub)
		}
	}
	return sub
}

// Publish delivers ev to every subscriber of its kind.
func (b *Bus) Publish(ev Event) {
	if ev == nil || b.closed.Load() {
		return
	}
	subs, ok := b.registry.Get(ev.Kind())
	if !ok {
		b.logger.WithField("kind", ev.Kind()).Warn("Event of unknown kind dropped")
		return
	}
	subs.Range(func(_ uint64, sub *Subscription) bool {
		if sub.deliver(ev) {
			b.logger.WithFields(logrus.Fields{
				"kind":         ev.Kind(),
				"subscription": sub.id,
			}).Debug("Slow subscriber, oldest event dropped")
		}
		return true
	})
}

// Close closes every subscription. Later Publish calls are ignored.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.registry.Range(func(_ Kind, subs *hashmap.Map[uint64, *Subscription]) bool {
		subs.Range(func(_ uint64, sub *Subscription) bool {
			sub.Close()
			return true
		})
		return true
	})
}

func (b *Bus) remove(sub *Subscription) {
	for _, k := range sub.kinds {
		if subs, ok := b.registry.Get(k); ok {
			subs.Del(sub.id)
		}
	}
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	id    uint64
	kinds []Kind
	bus   *Bus

	mu     sync.Mutex
	ch     *RingChannel[Event]
	closed bool
}

// C returns the event channel. It is closed by Close or Bus.Close.
func (s *Subscription) C() <-chan Event {
	return s.ch.C()
}

// Metrics returns delivery counters for this subscription.
func (s *Subscription) Metrics() MetricsSnapshot {
	return s.ch.Snapshot()
}

// Close unsubscribes and closes C. Closing twice is a no-op.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.closeChannel()
}

func (s *Subscription) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.ch.Close()
}

// deliver reports whether an older event was dropped to make room.
func (s *Subscription) deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.ch.ForceSend(ev)
}
