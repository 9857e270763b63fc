package device

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ID is the transport-assigned identifier of a device. It is stable for the
// lifetime of a discovery session (CoreBluetooth UUID on darwin, MAC address on linux).
type ID string

func (id ID) String() string {
	return string(id)
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected      ConnectionState = "not_connected"
	AlreadyConnected  ConnectionState = "already_connected"
	AlreadyConnecting ConnectionState = "already_connecting"
	NotDiscovered     ConnectionState = "not_discovered"
	ConnectFailed     ConnectionState = "connect_failed"
	MissingCapability ConnectionState = "missing_required_capability"
	HandshakeTimeout  ConnectionState = "handshake_timeout"
	ConnectCanceled   ConnectionState = "connect_canceled"
	Disconnected      ConnectionState = "disconnected"
	BluetoothOff      ConnectionState = "bluetooth_off"
	TransportClosed   ConnectionState = "transport_closed"
)

// ConnectionError represents any connection-related problem.
// Err carries the underlying transport cause, if any.
type ConnectionError struct {
	State ConnectionState
	Msg   string
	Err   error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.State)
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Unwrap exposes the transport cause to errors.Is / errors.As
func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected      = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected  = &ConnectionError{State: AlreadyConnected}
	ErrAlreadyConnecting = &ConnectionError{State: AlreadyConnecting}
	ErrNotDiscovered     = &ConnectionError{State: NotDiscovered}
	ErrConnectFailed     = &ConnectionError{State: ConnectFailed}
	ErrMissingCapability = &ConnectionError{State: MissingCapability}
	ErrHandshakeTimeout  = &ConnectionError{State: HandshakeTimeout}
	ErrConnectCanceled   = &ConnectionError{State: ConnectCanceled}
	ErrDisconnected      = &ConnectionError{State: Disconnected}
	ErrBluetoothOff      = &ConnectionError{State: BluetoothOff}
	ErrTransportClosed   = &ConnectionError{State: TransportClosed}
)

// ErrUnsupported is returned for operations a characteristic does not support
var ErrUnsupported = errors.New("unsupported")

// NewConnectFailed wraps a transport cause as a ConnectFailed error.
func NewConnectFailed(cause error) error {
	return &ConnectionError{State: ConnectFailed, Err: cause}
}

// Advertisement is a single advertising report seen while scanning
type Advertisement interface {
	ID() ID
	LocalName() string
	Services() []string
	RSSI() int
	Connectable() bool
}

// DiscoveredDevice is the immutable record kept for every device seen while scanning
type DiscoveredDevice struct {
	ID     ID
	Name   string
	RSSI   int
	SeenAt time.Time
}

// NewDiscoveredDevice captures an advertisement as a DiscoveredDevice
func NewDiscoveredDevice(adv Advertisement) DiscoveredDevice {
	return DiscoveredDevice{
		ID:     adv.ID(),
		Name:   adv.LocalName(),
		RSSI:   adv.RSSI(),
		SeenAt: time.Now(),
	}
}

// Properties is the characteristic property bit set
type Properties uint8

const (
	PropRead Properties = 1 << iota
	PropWrite
	PropWriteWithoutResponse
	PropNotify
	PropIndicate
)

// CanRead reports whether the characteristic supports reads
func (p Properties) CanRead() bool { return p&PropRead != 0 }

// CanNotify reports whether the characteristic supports notifications or indications
func (p Properties) CanNotify() bool { return p&(PropNotify|PropIndicate) != 0 }

func (p Properties) String() string {
	names := []struct {
		flag Properties
		name string
	}{
		{PropRead, "read"},
		{PropWrite, "write"},
		{PropWriteWithoutResponse, "write-without-response"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
	}
	out := ""
	for _, n := range names {
		if p&n.flag == 0 {
			continue
		}
		if out != "" {
			out += ","
		}
		out += n.name
	}
	return out
}

// CharacteristicInfo describes a characteristic reported by characteristic discovery
type CharacteristicInfo struct {
	Service    string
	UUID       string
	Properties Properties
}

// Transport is an event-driven BLE central. Apart from Scan, every request
// returns immediately and its outcome is delivered to the EventHandler.
type Transport interface {
	// SetHandler installs the receiver for all transport events. It must be
	// called before any other request.
	SetHandler(h EventHandler)

	// Scan blocks until ctx is done, reporting every advertisement that
	// matches one of the service UUIDs (all advertisements if empty).
	Scan(ctx context.Context, services []string, handler func(Advertisement)) error

	Connect(id ID)
	CancelConnection(id ID) error
	DiscoverServices(id ID, services []string)
	DiscoverCharacteristics(id ID, service string, characteristics []string)
	Read(id ID, service, characteristic string)
	Subscribe(id ID, service, characteristic string)
}

// EventHandler receives transport events. Every callback carries an optional
// error describing why the operation failed.
type EventHandler interface {
	OnConnected(id ID)
	OnConnectFailed(id ID, err error)
	OnDisconnected(id ID, reconnecting bool, err error)
	OnServicesDiscovered(id ID, services []string, err error)
	OnCharacteristicsDiscovered(id ID, service string, characteristics []CharacteristicInfo, err error)
	OnValue(id ID, service, characteristic string, value []byte, err error)
	OnNotifyState(id ID, service, characteristic string, enabled bool, err error)
}
