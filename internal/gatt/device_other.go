//go:build !linux && !darwin

package gatt

import (
	"errors"

	"github.com/go-ble/ble"
)

// DeviceFactory has no BLE backend on this platform. Tests replace it with a fake.
var DeviceFactory = func() (ble.Device, error) {
	return nil, errors.New("ble peripheral is not supported on this platform")
}
