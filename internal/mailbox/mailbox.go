// Package mailbox hands the most recent frame from the BLE receive path to the
// draw loop.
package mailbox

import (
	"sync"
	"sync/atomic"
)

// Mailbox is a single-slot, overwrite-on-publish hand-off. It never queues:
// if the draw loop falls behind, older frames are replaced by newer ones.
type Mailbox struct {
	mu      sync.Mutex
	pending []byte

	published   atomic.Uint64
	taken       atomic.Uint64
	overwritten atomic.Uint64
}

// Stats is a snapshot of mailbox counters.
type Stats struct {
	Published   uint64
	Taken       uint64
	Overwritten uint64 // frames replaced before anyone took them
}

func New() *Mailbox {
	return &Mailbox{}
}

// Publish stores frame, replacing any frame not yet taken. The mailbox takes
// ownership of frame.
func (m *Mailbox) Publish(frame []byte) {
	m.mu.Lock()
	replaced := m.pending != nil
	m.pending = frame
	m.mu.Unlock()

	m.published.Add(1)
	if replaced {
		m.overwritten.Add(1)
	}
}

// TakeIfPresent removes and returns the pending frame. The second result is
// false when nothing was published since the last take.
func (m *Mailbox) TakeIfPresent() ([]byte, bool) {
	m.mu.Lock()
	frame := m.pending
	m.pending = nil
	m.mu.Unlock()

	if frame == nil {
		return nil, false
	}
	m.taken.Add(1)
	return frame, true
}

func (m *Mailbox) Stats() Stats {
	return Stats{
		Published:   m.published.Load(),
		Taken:       m.taken.Load(),
		Overwritten: m.overwritten.Load(),
	}
}
