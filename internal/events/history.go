package events

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/paws/internal/groutine"
)

// History keeps the most recent control errors so a central can ask what
// went wrong after the fact. Older entries are overwritten once the ring is
// full.
type History struct {
	buffer mpmc.RichOverlappedRingBuffer[ControlError]
	sub    *Subscription
	logger *logrus.Logger

	overwritten atomic.Int64
	done        chan struct{}
	closeOnce   sync.Once
}

// NewHistory subscribes to ControlError events on bus and records them.
// The ring capacity is rounded up to a power of two.
func NewHistory(ctx context.Context, bus *Bus, capacity uint32, logger *logrus.Logger) *History {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if capacity == 0 {
		capacity = 16
	}
	h := &History{
		buffer: mpmc.NewOverlappedRingBuffer[ControlError](capacity),
		sub:    bus.Subscribe(int(capacity), KindControlError),
		logger: logger,
		done:   make(chan struct{}),
	}

	groutine.GoSafe(ctx, "error-history", groutine.LogPanics(logger), func(ctx context.Context) {
		defer close(h.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-h.sub.C():
				if !ok {
					return
				}
				if ce, isErr := ev.(ControlError); isErr {
					h.Record(ce)
				}
			}
		}
	})
	return h
}

// Record appends ce directly.
func (h *History) Record(ce ControlError) {
	overwrites, err := h.buffer.EnqueueM(ce)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to record control error")
		return
	}
	h.overwritten.Add(int64(overwrites))
}

// Drain removes and returns the recorded errors, oldest first.
func (h *History) Drain() []ControlError {
	var out []ControlError
	for !h.buffer.IsEmpty() {
		ce, err := h.buffer.Dequeue()
		if err != nil {
			break
		}
		out = append(out, ce)
	}
	return out
}

// Overwritten returns how many errors were lost to a full ring.
func (h *History) Overwritten() int64 {
	return h.overwritten.Load()
}

// Close unsubscribes and waits for the recording goroutine to exit.
func (h *History) Close() error {
	h.closeOnce.Do(h.sub.Close)
	<-h.done
	return nil
}

// FormatErrors renders errors one per line.
func FormatErrors(errs []ControlError) string {
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}
