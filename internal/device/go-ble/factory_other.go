//go:build !darwin && !linux

package goble

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/grillprobe/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return nil, fmt.Errorf("no BLE stack for this platform: %w", device.ErrUnsupported)
}
