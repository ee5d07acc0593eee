// Package gatt exposes the display as a BLE GATT peripheral.
//
// The service carries two characteristics: a write-without-response stream
// characteristic for chunked frames and a control characteristic for
// command envelopes, whose results come back as notifications.
package gatt

import (
	"github.com/go-ble/ble"

	"github.com/srg/paws/internal/protocol"
)

// CommandHandler receives control characteristic writes. It must not block.
type CommandHandler interface {
	HandleEnvelope(data []byte)
}

// NewStreamCharacteristic creates the frame stream characteristic. Writes go
// straight to r and the handler returns without waiting for a draw. When w
// is non-nil it learns which central is streaming.
func NewStreamCharacteristic(uuid ble.UUID, r *protocol.Reassembler, w *LinkWatcher) *ble.Characteristic {
	c := ble.NewCharacteristic(uuid)
	c.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, _ ble.ResponseWriter) {
		if w != nil {
			w.Observe(req.Conn())
		}
		r.Write(req.Data())
	}))
	return c
}

// NewControlCharacteristic creates the control characteristic. Writes are
// handed to h; reads and notifications come from n.
func NewControlCharacteristic(uuid ble.UUID, h CommandHandler, n *Notifier) *ble.Characteristic {
	c := ble.NewCharacteristic(uuid)
	c.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, _ ble.ResponseWriter) {
		h.HandleEnvelope(req.Data())
	}))
	if n != nil {
		c.HandleRead(ble.ReadHandlerFunc(n.ServeRead))
		c.HandleNotify(ble.NotifyHandlerFunc(n.ServeNotify))
	}
	return c
}

// NewService groups chars under the service uuid.
func NewService(uuid ble.UUID, chars ...*ble.Characteristic) *ble.Service {
	svc := ble.NewService(uuid)
	for _, c := range chars {
		svc.AddCharacteristic(c)
	}
	return svc
}
