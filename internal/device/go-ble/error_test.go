package goble

import (
	"context"
	"errors"
	"testing"

	"github.com/srg/grillprobe/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"bluetooth state", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), device.ErrBluetoothOff},
		{"bluetooth off", errors.New("Bluetooth is turned off"), device.ErrBluetoothOff},
		{"not connected", errors.New("device not connected"), device.ErrNotConnected},
		{"link lost", errors.New("peripheral disconnected"), device.ErrDisconnected},
		{"already connected", errors.New("Device already connected"), device.ErrAlreadyConnected},
		{"no hci adapter", errors.New("can't init hci: no devices available"), device.ErrBluetoothOff},
		{"unsupported", errors.New("operation not supported"), device.ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.in)
			assert.ErrorIs(t, got, tt.want)
			assert.Contains(t, got.Error(), tt.in.Error(), "original message must be preserved")
		})
	}
}

func TestNormalizeError_PassThrough(t *testing.T) {
	assert.NoError(t, NormalizeError(nil))
	assert.Same(t, context.Canceled, NormalizeError(context.Canceled))

	other := errors.New("att: insufficient authentication")
	assert.Same(t, other, NormalizeError(other))
}
