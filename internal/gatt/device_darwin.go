//go:build darwin

package gatt

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory opens the CoreBluetooth peripheral manager. Tests replace it with a fake.
var DeviceFactory = func() (ble.Device, error) {
	return darwin.NewDevice(ble.OptPeripheralRole())
}
