package devicefactory

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/srg/grillprobe/internal/device"
	"github.com/srg/grillprobe/internal/device/go-ble"
)

// Transport is a device.Transport that owns platform resources
type Transport interface {
	device.Transport
	io.Closer
}

// TransportFactory creates the platform BLE transport.
// This is a variable so that it can be overridden in tests.
var TransportFactory = func(logger *logrus.Logger) (Transport, error) {
	return goble.NewTransport(logger), nil
}

// NewTransport creates the transport used by the connection manager
func NewTransport(logger *logrus.Logger) (Transport, error) {
	return TransportFactory(logger)
}
