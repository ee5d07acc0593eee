//go:build linux

package gatt

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// DeviceFactory opens the local HCI adapter. Tests replace it with a fake.
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice(ble.OptPeripheralRole())
}
