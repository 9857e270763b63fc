// Package probe holds the per-device session of a connected temperature probe
// and the decoding of its characteristic payloads.
package probe

import (
	"fmt"
	"sync"

	"github.com/srg/grillprobe/internal/device"
)

// BatteryState is the battery flag reported by status events
type BatteryState int

const (
	// BatteryUnknown is reported for an unexpected status flag
	BatteryUnknown BatteryState = iota
	BatteryOK
	BatteryLow
)

func (b BatteryState) String() string {
	switch b {
	case BatteryOK:
		return "ok"
	case BatteryLow:
		return "low"
	default:
		return "unknown"
	}
}

// ConnectionState of a session
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// Snapshot is a point-in-time copy of a session.
// Pointer fields stay nil until the corresponding value was received.
type Snapshot struct {
	ID               device.ID
	ManufacturerName *string
	ModelNumber      *string
	SerialNumber     *string
	FirmwareRevision *string
	DeviceName       *string
	ProbeTemperature *float64
	GrillTemperature *float64
	Battery          *BatteryState
	State            ConnectionState
}

// Name returns the best display name known for the device
func (s Snapshot) Name() string {
	if s.DeviceName != nil && *s.DeviceName != "" {
		return *s.DeviceName
	}
	return string(s.ID)
}

// Session is the live state of one connected probe. It is written only by
// the connection manager and read concurrently through Snapshot.
type Session struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewSession creates a session in the Connecting state
func NewSession(id device.ID) *Session {
	return &Session{snap: Snapshot{ID: id, State: StateConnecting}}
}

// ID returns the device identifier
func (s *Session) ID() device.ID {
	return s.snap.ID
}

// Snapshot returns a copy of all fields
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.snap
	out.ManufacturerName = clonePtr(s.snap.ManufacturerName)
	out.ModelNumber = clonePtr(s.snap.ModelNumber)
	out.SerialNumber = clonePtr(s.snap.SerialNumber)
	out.FirmwareRevision = clonePtr(s.snap.FirmwareRevision)
	out.DeviceName = clonePtr(s.snap.DeviceName)
	out.ProbeTemperature = clonePtr(s.snap.ProbeTemperature)
	out.GrillTemperature = clonePtr(s.snap.GrillTemperature)
	out.Battery = clonePtr(s.snap.Battery)
	return out
}

// State returns the connection state
func (s *Session) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.State
}

// OnConnected marks the session connected
func (s *Session) OnConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.State = StateConnected
}

// OnDisconnect marks the session disconnected. Telemetry is retained.
func (s *Session) OnDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.State = StateDisconnected
}

// Apply decodes a characteristic payload into the matching field.
// On a decode error the prior value is kept and the error is returned.
// Kinds the session does not track are ignored.
func (s *Session) Apply(kind device.CharacteristicKind, payload []byte) error {
	switch kind {
	case device.KindManufacturerName:
		return s.applyString(&s.snap.ManufacturerName, payload)
	case device.KindModelNumber:
		return s.applyString(&s.snap.ModelNumber, payload)
	case device.KindSerialNumber:
		return s.applyString(&s.snap.SerialNumber, payload)
	case device.KindFirmwareRevision:
		return s.applyString(&s.snap.FirmwareRevision, payload)
	case device.KindDeviceName:
		return s.applyString(&s.snap.DeviceName, payload)

	case device.KindTemperature:
		t, err := DecodeTelemetry(payload)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.snap.ProbeTemperature = &t.Probe
		s.snap.GrillTemperature = &t.Grill
		s.mu.Unlock()
		return nil

	case device.KindStatus:
		battery, err := DecodeStatus(payload)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.snap.Battery = &battery
		s.mu.Unlock()
		return nil

	default:
		return nil
	}
}

func (s *Session) applyString(field **string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	v, err := DecodeASCII(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	*field = &v
	s.mu.Unlock()
	return nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
