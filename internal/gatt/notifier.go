package gatt

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/paws/internal/events"
	"github.com/srg/paws/internal/groutine"
	"github.com/srg/paws/internal/protocol"
)

// Notifier forwards scene outputs to subscribed centrals as encoded
// command envelopes on the control characteristic.
type Notifier struct {
	sub    *events.Subscription
	logger *logrus.Logger

	centrals *hashmap.Map[uint64, ble.Notifier]
	nextID   atomic.Uint64
	last     atomic.Pointer[[]byte]

	sent    atomic.Uint64
	dropped atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
}

// NewNotifier subscribes to scene outputs on bus. queue bounds how many
// outputs may wait for delivery; older ones are dropped first.
func NewNotifier(ctx context.Context, bus *events.Bus, queue int, logger *logrus.Logger) *Notifier {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	n := &Notifier{
		sub:      bus.Subscribe(queue, events.KindSceneOutput),
		logger:   logger,
		centrals: hashmap.New[uint64, ble.Notifier](),
		done:     make(chan struct{}),
	}

	groutine.GoSafe(ctx, "gatt-notifier", groutine.LogPanics(logger), func(ctx context.Context) {
		defer close(n.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-n.sub.C():
				if !ok {
					return
				}
				if out, isOut := ev.(events.SceneOutput); isOut {
					n.broadcast(out)
				}
			}
		}
	})
	return n
}

func (n *Notifier) broadcast(out events.SceneOutput) {
	b, err := protocol.EncodeCommand(protocol.SceneCommand{
		SceneID:   out.SceneID,
		ControlID: out.ControlID,
		Value:     out.Value,
	})
	if err != nil {
		n.logger.WithError(err).Warn("Cannot encode scene output")
		return
	}
	n.last.Store(&b)

	n.centrals.Range(func(id uint64, c ble.Notifier) bool {
		fields := logrus.Fields{
			"central": id,
			"scene":   out.SceneID,
			"control": out.ControlID,
		}
		if limit := c.Cap(); limit > 0 && len(b) > limit {
			n.dropped.Add(1)
			n.logger.WithFields(fields).WithField("bytes", len(b)).Warnf("Notification exceeds %d byte limit, dropped", limit)
			return true
		}
		if _, err := c.Write(b); err != nil {
			n.dropped.Add(1)
			n.logger.WithFields(fields).WithError(err).Warn("Notification failed")
			return true
		}
		n.sent.Add(1)
		return true
	})
}

// ServeNotify registers a central for notifications until it unsubscribes
// or disconnects.
func (n *Notifier) ServeNotify(req ble.Request, c ble.Notifier) {
	id := n.nextID.Add(1)
	n.centrals.Set(id, c)
	defer n.centrals.Del(id)

	fields := logrus.Fields{"central": id}
	if conn := req.Conn(); conn != nil {
		fields["addr"] = conn.RemoteAddr().String()
	}
	n.logger.WithFields(fields).Info("Central subscribed")

	select {
	case <-c.Context().Done():
	case <-n.done:
	}
	n.logger.WithFields(fields).Info("Central unsubscribed")
}

// ServeRead returns the most recent notification.
func (n *Notifier) ServeRead(_ ble.Request, rsp ble.ResponseWriter) {
	if p := n.last.Load(); p != nil {
		if _, err := rsp.Write(*p); err != nil {
			n.logger.WithError(err).Debug("Read response truncated")
		}
	}
}

// Subscribers returns the number of centrals currently subscribed.
func (n *Notifier) Subscribers() int {
	return n.centrals.Len()
}

// NotifierStats counts notification outcomes per central.
type NotifierStats struct {
	Sent    uint64
	Dropped uint64
}

func (n *Notifier) Stats() NotifierStats {
	return NotifierStats{Sent: n.sent.Load(), Dropped: n.dropped.Load()}
}

// Close stops forwarding and releases subscribed centrals.
func (n *Notifier) Close() error {
	n.closeOnce.Do(n.sub.Close)
	<-n.done
	return nil
}
