package gatt

import (
	"context"
	"io"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/paws/internal/groutine"
)

// FrameResetter is the part of the reassembler the link watcher needs.
type FrameResetter interface {
	Reset()
}

// LinkWatcher resets the reassembler when the central that last wrote to
// the stream characteristic disconnects, so a frame it left half written
// cannot absorb the next central's continuations.
type LinkWatcher struct {
	ctx    context.Context
	r      FrameResetter
	logger *logrus.Logger

	mu      sync.Mutex
	last    string              // address of the latest stream writer
	watched map[string]struct{} // addresses with a disconnect monitor
}

// NewLinkWatcher creates a watcher whose monitors exit when ctx is done.
func NewLinkWatcher(ctx context.Context, r FrameResetter, logger *logrus.Logger) *LinkWatcher {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &LinkWatcher{
		ctx:     ctx,
		r:       r,
		logger:  logger,
		watched: make(map[string]struct{}),
	}
}

// Observe records conn as the latest stream writer. It never blocks.
func (w *LinkWatcher) Observe(conn ble.Conn) {
	if conn == nil {
		return
	}
	addr := conn.RemoteAddr().String()

	w.mu.Lock()
	w.last = addr
	_, known := w.watched[addr]
	if !known {
		w.watched[addr] = struct{}{}
	}
	w.mu.Unlock()
	if known {
		return
	}

	gone := disconnected(conn)
	groutine.GoSafe(w.ctx, "stream-link-monitor", groutine.LogPanics(w.logger), func(ctx context.Context) {
		select {
		case <-ctx.Done():
			return
		case <-gone:
		}
		w.lost(addr)
	})
}

func (w *LinkWatcher) lost(addr string) {
	w.mu.Lock()
	delete(w.watched, addr)
	wasLast := w.last == addr
	if wasLast {
		w.last = ""
	}
	w.mu.Unlock()

	if wasLast {
		w.r.Reset()
		w.logger.WithField("addr", addr).Info("Streaming central disconnected, frame in progress dropped")
	}
}

// disconnected returns a channel closed when the link goes down. Backends
// without a Disconnected channel end the connection context instead.
func disconnected(conn ble.Conn) <-chan struct{} {
	if d, ok := conn.(interface{ Disconnected() <-chan struct{} }); ok {
		return d.Disconnected()
	}
	return conn.Context().Done()
}
