package events

import "sync/atomic"

// RingChannel is a bounded channel with overwrite-oldest semantics: a sender
// never blocks, a full buffer loses its oldest element instead.
//
// Readers range over C() like a normal channel.
type RingChannel[T any] struct {
	ch      chan T
	metrics Metrics
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("events: ring channel capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// TrySend inserts v if there is room.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.metrics.Written.Add(1)
		return true
	default:
		return false
	}
}

// ForceSend inserts v, dropping the oldest element when full. It reports
// whether something was dropped.
//
// Concurrent ForceSend calls on one channel must be serialized by the caller,
// otherwise the final send may block.
func (rc *RingChannel[T]) ForceSend(v T) bool {
	if rc.TrySend(v) {
		return false
	}

	dropped := false
	select {
	case <-rc.ch:
		rc.metrics.Overwritten.Add(1)
		dropped = true
	default:
	}
	rc.ch <- v
	rc.metrics.Written.Add(1)
	return dropped
}

func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. Sending afterwards panics.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}

// Snapshot returns current counter values.
func (rc *RingChannel[T]) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Written:     rc.metrics.Written.Load(),
		Overwritten: rc.metrics.Overwritten.Load(),
	}
}

// Metrics are the live counters of a RingChannel.
type Metrics struct {
	Written     atomic.Int64
	Overwritten atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Written     int64
	Overwritten int64
}
