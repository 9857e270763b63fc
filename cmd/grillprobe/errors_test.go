package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/grillprobe/internal/device"
	"github.com/srg/grillprobe/internal/sink/mqtt"
	"github.com/srg/grillprobe/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "bluetooth off", err: device.ErrBluetoothOff, want: "Bluetooth is turned off or unavailable"},
		{
			name: "not discovered",
			err:  &device.ConnectionError{State: device.NotDiscovered, Msg: "aa:bb"},
			want: "probe was not found during the scan (aa:bb)",
		},
		{
			name: "handshake timeout",
			err:  &device.ConnectionError{State: device.HandshakeTimeout, Msg: "30s"},
			want: "timed out while connecting to the probe after 30s",
		},
		{
			name: "connect failed with cause",
			err:  device.NewConnectFailed(errors.New("le-connection-abort-by-local")),
			want: "failed to connect to the probe: le-connection-abort-by-local",
		},
		{
			name: "wrapped connection error",
			err:  fmt.Errorf("monitor: %w", device.ErrAlreadyConnected),
			want: "probe is already connected or connecting",
		},
		{
			name: "unknown probe",
			err:  fmt.Errorf("%w: aa:bb", store.ErrNotFound),
			want: "probe is not registered; add it with 'grillprobe probe add <id>'",
		},
		{
			name: "mqtt broker",
			err:  fmt.Errorf("%w: timeout after 10s", mqtt.ErrConnectionFailed),
			want: "cannot reach the MQTT broker: mqtt: connection failed: timeout after 10s",
		},
		{name: "no probes", err: ErrNoProbes, want: "no probes connected; make sure the probe is switched on and in range"},
		{name: "other", err: errors.New("boom"), want: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}
