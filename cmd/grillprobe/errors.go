package main

import (
	"errors"
	"fmt"

	"github.com/srg/grillprobe/internal/device"
	"github.com/srg/grillprobe/internal/sink/influx"
	"github.com/srg/grillprobe/internal/sink/mqtt"
	"github.com/srg/grillprobe/internal/store"
)

// Command-level errors
var (
	// ErrNoProbes is returned by monitor when no probe could be connected
	ErrNoProbes = errors.New("no probes connected")
)

// FormatUserError turns an error into a one-line message for the terminal
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var cerr *device.ConnectionError
	if errors.As(err, &cerr) {
		switch cerr.State {
		case device.BluetoothOff:
			return "Bluetooth is turned off or unavailable"
		case device.NotDiscovered:
			return fmt.Sprintf("probe was not found during the scan (%s)", cerr.Msg)
		case device.HandshakeTimeout:
			return fmt.Sprintf("timed out while connecting to the probe after %s", cerr.Msg)
		case device.MissingCapability:
			return fmt.Sprintf("device is not a supported temperature probe: %s", cerr.Msg)
		case device.AlreadyConnected, device.AlreadyConnecting:
			return "probe is already connected or connecting"
		case device.ConnectCanceled:
			return "connection canceled"
		case device.ConnectFailed:
			if cerr.Err != nil {
				return fmt.Sprintf("failed to connect to the probe: %v", cerr.Err)
			}
			return "failed to connect to the probe"
		}
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return "probe is not registered; add it with 'grillprobe probe add <id>'"
	case errors.Is(err, mqtt.ErrConnectionFailed):
		return fmt.Sprintf("cannot reach the MQTT broker: %v", err)
	case errors.Is(err, influx.ErrConnectionFailed):
		return fmt.Sprintf("cannot reach InfluxDB: %v", err)
	case errors.Is(err, ErrNoProbes):
		return "no probes connected; make sure the probe is switched on and in range"
	}
	return err.Error()
}
