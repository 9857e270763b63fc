package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/grillprobe/internal/device"
)

// errorPatterns maps lowercase fragments of go-ble error messages to the
// sentinel they stand for. The first match wins.
var errorPatterns = []struct {
	fragment string
	sentinel error
}{
	// darwin: CoreBluetooth powered off
	{"have=4 want=5", device.ErrBluetoothOff},
	{"bluetooth is turned off", device.ErrBluetoothOff},
	// linux: no HCI adapter or no permission to open it
	{"can't init hci", device.ErrBluetoothOff},
	{"device not connected", device.ErrNotConnected},
	{"device already connected", device.ErrAlreadyConnected},
	{"disconnected", device.ErrDisconnected},
	{"not supported", device.ErrUnsupported},
}

// NormalizeError maps known go-ble error messages to the device sentinels so
// callers can use errors.Is. The original error text is kept in the message.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(msg, p.fragment) {
			return fmt.Errorf("%w: %v", p.sentinel, err)
		}
	}
	return err
}
