package testutils

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/srg/grillprobe/internal/device"
	"github.com/srg/grillprobe/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// PeripheralBuilder builds a mocked go-ble device that answers the GATT
// handshake with a probe profile
type PeripheralBuilder struct {
	profile  *ProbeProfile
	dialErr  error
	dialGate <-chan struct{}
}

// NewPeripheralBuilder creates a builder for a standard probe
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{profile: CreateStandardProbe("Brisket").Build()}
}

// FromProfile replaces the GATT layout with the given profile
func (b *PeripheralBuilder) FromProfile(p *ProbeProfile) *PeripheralBuilder {
	b.profile = p
	return b
}

// WithDialError makes Dial fail with err
func (b *PeripheralBuilder) WithDialError(err error) *PeripheralBuilder {
	b.dialErr = err
	return b
}

// WithDialGate makes Dial return only once gate is closed. The dial context is
// ignored, like a stack that completes the connection anyway.
func (b *PeripheralBuilder) WithDialGate(gate <-chan struct{}) *PeripheralBuilder {
	b.dialGate = gate
	return b
}

// MockPeripheral is a built mock device together with its GATT objects
type MockPeripheral struct {
	Device   *mocks.MockDevice
	Client   *mocks.MockClient
	Services []*ble.Service

	dials   atomic.Int32
	cancels atomic.Int32

	mu           sync.Mutex
	handlers     map[*ble.Characteristic]ble.NotificationHandler
	disconnected chan struct{}
	dropOnce     sync.Once
}

// Build creates the mocks and registers their expectations
func (b *PeripheralBuilder) Build() *MockPeripheral {
	p := &MockPeripheral{
		Device:       &mocks.MockDevice{},
		Client:       &mocks.MockClient{},
		handlers:     make(map[*ble.Characteristic]ble.NotificationHandler),
		disconnected: make(chan struct{}),
	}

	for _, svcCfg := range b.profile.Services {
		svc := &ble.Service{UUID: ble.MustParse(device.NormalizeUUID(svcCfg.UUID))}
		for _, charCfg := range svcCfg.Characteristics {
			svc.Characteristics = append(svc.Characteristics, &ble.Characteristic{
				UUID:     ble.MustParse(device.NormalizeUUID(charCfg.UUID)),
				Property: bleProperties(charCfg.Properties),
				Value:    charCfg.Value,
			})
		}
		p.Services = append(p.Services, svc)
	}

	gate := b.dialGate
	dial := p.Device.On("Dial", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		p.dials.Add(1)
		if gate != nil {
			<-gate
		}
	})
	if b.dialErr != nil {
		dial.Return(nil, b.dialErr)
	} else {
		dial.Return(p.Client, nil)
	}

	p.Client.On("DiscoverServices", mock.Anything).Return(p.Services, nil)
	p.Client.On("DiscoverDescriptors", mock.Anything, mock.Anything).Return([]*ble.Descriptor(nil), nil)
	for _, svc := range p.Services {
		p.Client.On("DiscoverCharacteristics", mock.Anything, svc).Return(svc.Characteristics, nil)

		for _, c := range svc.Characteristics {
			if c.Property&ble.CharRead != 0 {
				p.Client.On("ReadCharacteristic", c).Return(c.Value, nil)
			}
			char := c
			p.Client.On("Subscribe", char, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
				p.mu.Lock()
				defer p.mu.Unlock()
				p.handlers[char] = args.Get(2).(ble.NotificationHandler)
			}).Return(nil)
		}
	}

	p.Client.On("CancelConnection").Run(func(mock.Arguments) {
		p.cancels.Add(1)
		p.DropLink()
	}).Return(nil)
	p.Client.On("Disconnected").Return((<-chan struct{})(p.disconnected))

	return p
}

// Dials returns how many times Dial was entered
func (p *MockPeripheral) Dials() int {
	return int(p.dials.Load())
}

// Cancels returns how many times the client connection was cancelled
func (p *MockPeripheral) Cancels() int {
	return int(p.cancels.Load())
}

// Characteristic returns the GATT object of a characteristic, or nil
func (p *MockPeripheral) Characteristic(service, char string) *ble.Characteristic {
	for _, svc := range p.Services {
		if device.NormalizeUUID(svc.UUID.String()) != device.NormalizeUUID(service) {
			continue
		}
		for _, c := range svc.Characteristics {
			if device.NormalizeUUID(c.UUID.String()) == device.NormalizeUUID(char) {
				return c
			}
		}
	}
	return nil
}

// Notify delivers a value to the subscription of a characteristic. It returns
// false when nothing is subscribed.
func (p *MockPeripheral) Notify(service, char string, value []byte) bool {
	c := p.Characteristic(service, char)
	p.mu.Lock()
	h, ok := p.handlers[c]
	p.mu.Unlock()
	if !ok {
		return false
	}
	h(value)
	return true
}

// DropLink closes the Disconnected channel of the client
func (p *MockPeripheral) DropLink() {
	p.dropOnce.Do(func() { close(p.disconnected) })
}

func bleProperties(props string) ble.Property {
	var p ble.Property
	for _, name := range strings.Split(props, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "read":
			p |= ble.CharRead
		case "write":
			p |= ble.CharWrite
		case "write-without-response":
			p |= ble.CharWriteNR
		case "notify":
			p |= ble.CharNotify
		case "indicate":
			p |= ble.CharIndicate
		}
	}
	return p
}
