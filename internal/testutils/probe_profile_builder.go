package testutils

import (
	"strings"

	"github.com/srg/grillprobe/internal/device"
)

// CharacteristicConfig represents a characteristic of a fake probe
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,notify"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig represents a service of a fake probe
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// ProbeProfile describes how a fake probe advertises and answers the handshake
type ProbeProfile struct {
	ID       device.ID       `json:"id"`
	Name     string          `json:"name"`
	RSSI     int             `json:"rssi"`
	Services []ServiceConfig `json:"services"`

	// ConnectError makes Connect fail with this error
	ConnectError error `json:"-"`
	// HoldConnect leaves Connect unanswered
	HoldConnect bool `json:"hold_connect,omitempty"`
	// HoldCharacteristics leaves characteristic discovery of these services unanswered
	HoldCharacteristics []string `json:"hold_characteristics,omitempty"`
}

func (p *ProbeProfile) service(uuid string) (ServiceConfig, bool) {
	for _, s := range p.Services {
		if device.NormalizeUUID(s.UUID) == device.NormalizeUUID(uuid) {
			return s, true
		}
	}
	return ServiceConfig{}, false
}

func (p *ProbeProfile) characteristic(service, char string) (CharacteristicConfig, bool) {
	s, ok := p.service(service)
	if !ok {
		return CharacteristicConfig{}, false
	}
	for _, c := range s.Characteristics {
		if device.NormalizeUUID(c.UUID) == device.NormalizeUUID(char) {
			return c, true
		}
	}
	return CharacteristicConfig{}, false
}

// ProbeProfileBuilder builds fake probe profiles with a fluent API
type ProbeProfileBuilder struct {
	profile ProbeProfile
}

// NewProbeProfileBuilder creates an empty profile builder
func NewProbeProfileBuilder() *ProbeProfileBuilder {
	return &ProbeProfileBuilder{profile: ProbeProfile{RSSI: -60}}
}

// WithID sets the device identifier
func (b *ProbeProfileBuilder) WithID(id device.ID) *ProbeProfileBuilder {
	b.profile.ID = id
	return b
}

// WithName sets the advertised local name
func (b *ProbeProfileBuilder) WithName(name string) *ProbeProfileBuilder {
	b.profile.Name = name
	return b
}

// WithRSSI sets the advertised signal strength
func (b *ProbeProfileBuilder) WithRSSI(rssi int) *ProbeProfileBuilder {
	b.profile.RSSI = rssi
	return b
}

// WithService adds a service to the profile
func (b *ProbeProfileBuilder) WithService(uuid string) *ProbeProfileBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *ProbeProfileBuilder) WithCharacteristic(uuid, properties string, value []byte) *ProbeProfileBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// WithoutService removes a service from the profile
func (b *ProbeProfileBuilder) WithoutService(uuid string) *ProbeProfileBuilder {
	kept := b.profile.Services[:0]
	for _, s := range b.profile.Services {
		if device.NormalizeUUID(s.UUID) != device.NormalizeUUID(uuid) {
			kept = append(kept, s)
		}
	}
	b.profile.Services = kept
	return b
}

// WithConnectError makes the fake transport fail the connect
func (b *ProbeProfileBuilder) WithConnectError(err error) *ProbeProfileBuilder {
	b.profile.ConnectError = err
	return b
}

// HoldConnect makes the fake transport never answer Connect
func (b *ProbeProfileBuilder) HoldConnect() *ProbeProfileBuilder {
	b.profile.HoldConnect = true
	return b
}

// HoldCharacteristics makes the fake transport never answer characteristic
// discovery for the given service
func (b *ProbeProfileBuilder) HoldCharacteristics(service string) *ProbeProfileBuilder {
	b.profile.HoldCharacteristics = append(b.profile.HoldCharacteristics, device.NormalizeUUID(service))
	return b
}

// Standard fills the profile with the probe and device information services
func (b *ProbeProfileBuilder) Standard(name string) *ProbeProfileBuilder {
	return b.WithName(name).
		WithService(device.ServiceProbe).
		WithCharacteristic(device.CharDeviceName, "read", []byte(name)).
		WithCharacteristic(device.CharTemperature, "notify", nil).
		WithCharacteristic(device.CharWrite, "write", nil).
		WithCharacteristic(device.CharResponse, "notify", nil).
		WithCharacteristic(device.CharStatus, "notify", nil).
		WithService(device.ServiceDeviceInformation).
		WithCharacteristic(device.CharManufacturerName, "read", []byte("Inkbird")).
		WithCharacteristic(device.CharModelNumber, "read", []byte("IBT-1X")).
		WithCharacteristic(device.CharSerialNumber, "read", []byte("0001")).
		WithCharacteristic(device.CharFirmwareRevision, "read", []byte("1.0.0"))
}

// Build returns the profile
func (b *ProbeProfileBuilder) Build() *ProbeProfile {
	p := b.profile
	return &p
}

// ParseProperties converts a comma separated property list ("read,notify") to device.Properties
func ParseProperties(props string) device.Properties {
	var p device.Properties
	for _, name := range strings.Split(props, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "read":
			p |= device.PropRead
		case "write":
			p |= device.PropWrite
		case "write-without-response":
			p |= device.PropWriteWithoutResponse
		case "notify":
			p |= device.PropNotify
		case "indicate":
			p |= device.PropIndicate
		}
	}
	return p
}
