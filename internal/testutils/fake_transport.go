package testutils

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/srg/grillprobe/internal/device"
)

// Fake transport operations as recorded in Calls
const (
	OpScan                    = "scan"
	OpConnect                 = "connect"
	OpCancelConnection        = "cancel_connection"
	OpDiscoverServices        = "discover_services"
	OpDiscoverCharacteristics = "discover_characteristics"
	OpRead                    = "read"
	OpSubscribe               = "subscribe"
)

// ErrUnknownPeripheral is reported when connecting to an ID without a profile
var ErrUnknownPeripheral = errors.New("unknown peripheral")

// Call is a recorded transport request
type Call struct {
	Op      string
	ID      device.ID
	Service string
	Char    string
	UUIDs   []string
}

// FakeAdvertisement implements device.Advertisement
type FakeAdvertisement struct {
	DeviceID    device.ID
	Name        string
	ServiceList []string
	Signal      int
}

func (a FakeAdvertisement) ID() device.ID      { return a.DeviceID }
func (a FakeAdvertisement) LocalName() string  { return a.Name }
func (a FakeAdvertisement) Services() []string { return a.ServiceList }
func (a FakeAdvertisement) RSSI() int          { return a.Signal }
func (a FakeAdvertisement) Connectable() bool  { return true }

// FakeTransport is an in-memory device.Transport driven by probe profiles.
//
// Requests are recorded and, unless Manual is set, answered synchronously from
// the profile of the addressed device. In manual mode tests deliver events
// themselves through Handler().
type FakeTransport struct {
	mu         sync.Mutex
	handler    device.EventHandler
	calls      []Call
	profiles   map[device.ID]*ProbeProfile
	order      []device.ID
	connected  map[device.ID]bool
	subscribed map[string]bool
	manual     bool
	scanErr    error
}

// NewFakeTransport creates a fake transport that answers from profiles
func NewFakeTransport(profiles ...*ProbeProfile) *FakeTransport {
	t := &FakeTransport{
		profiles:   make(map[device.ID]*ProbeProfile),
		connected:  make(map[device.ID]bool),
		subscribed: make(map[string]bool),
	}
	for _, p := range profiles {
		t.AddProfile(p)
	}
	return t
}

// AddProfile registers a probe; it is advertised by the next Scan
func (t *FakeTransport) AddProfile(p *ProbeProfile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.profiles[p.ID]; !ok {
		t.order = append(t.order, p.ID)
	}
	t.profiles[p.ID] = p
}

// SetManual switches between automatic answers and manual event delivery
func (t *FakeTransport) SetManual(manual bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.manual = manual
}

// SetScanError makes Scan fail immediately with err
func (t *FakeTransport) SetScanError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scanErr = err
}

// Handler returns the installed event handler
func (t *FakeTransport) Handler() device.EventHandler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

// Calls returns the recorded requests, optionally filtered by operation
func (t *FakeTransport) Calls(ops ...string) []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Call, 0, len(t.calls))
	for _, c := range t.calls {
		if len(ops) == 0 || slices.Contains(ops, c.Op) {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns the number of recorded requests of one operation
func (t *FakeTransport) CallCount(op string) int {
	return len(t.Calls(op))
}

// Advertisement returns the advertisement of a registered profile
func (t *FakeTransport) Advertisement(id device.ID) FakeAdvertisement {
	t.mu.Lock()
	defer t.mu.Unlock()
	return advertisementOf(t.profiles[id])
}

func advertisementOf(p *ProbeProfile) FakeAdvertisement {
	adv := FakeAdvertisement{DeviceID: p.ID, Name: p.Name, Signal: p.RSSI}
	for _, s := range p.Services {
		adv.ServiceList = append(adv.ServiceList, device.NormalizeUUID(s.UUID))
	}
	return adv
}

// Notify delivers a notification for a subscribed characteristic.
// Returns false if the characteristic is not subscribed.
func (t *FakeTransport) Notify(id device.ID, service, char string, value []byte) bool {
	t.mu.Lock()
	ok := t.subscribed[subKey(id, service, char)]
	h := t.handler
	t.mu.Unlock()
	if !ok || h == nil {
		return false
	}
	h.OnValue(id, device.NormalizeUUID(service), device.NormalizeUUID(char), value, nil)
	return true
}

// DropLink simulates an unexpected link loss
func (t *FakeTransport) DropLink(id device.ID, cause error) {
	t.mu.Lock()
	delete(t.connected, id)
	t.clearSubscriptions(id)
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h.OnDisconnected(id, false, cause)
	}
}

func (t *FakeTransport) record(c Call) (*ProbeProfile, device.EventHandler, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, c)
	return t.profiles[c.ID], t.handler, t.manual
}

// device.Transport implementation

func (t *FakeTransport) SetHandler(h device.EventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *FakeTransport) Scan(ctx context.Context, services []string, handler func(device.Advertisement)) error {
	t.mu.Lock()
	t.calls = append(t.calls, Call{Op: OpScan, UUIDs: services})
	err := t.scanErr
	ads := make([]FakeAdvertisement, 0, len(t.order))
	for _, id := range t.order {
		ads = append(ads, advertisementOf(t.profiles[id]))
	}
	t.mu.Unlock()

	if err != nil {
		return err
	}
	for _, adv := range ads {
		if advertises(adv, services) {
			handler(adv)
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func advertises(adv FakeAdvertisement, services []string) bool {
	if len(services) == 0 {
		return true
	}
	for _, s := range services {
		if slices.Contains(adv.ServiceList, device.NormalizeUUID(s)) {
			return true
		}
	}
	return false
}

func (t *FakeTransport) Connect(id device.ID) {
	p, h, manual := t.record(Call{Op: OpConnect, ID: id})
	if manual || h == nil {
		return
	}
	switch {
	case p == nil:
		h.OnConnectFailed(id, ErrUnknownPeripheral)
	case p.ConnectError != nil:
		h.OnConnectFailed(id, p.ConnectError)
	case p.HoldConnect:
	default:
		t.mu.Lock()
		t.connected[id] = true
		t.mu.Unlock()
		h.OnConnected(id)
	}
}

func (t *FakeTransport) CancelConnection(id device.ID) error {
	_, h, manual := t.record(Call{Op: OpCancelConnection, ID: id})

	t.mu.Lock()
	wasConnected := t.connected[id]
	delete(t.connected, id)
	t.clearSubscriptions(id)
	t.mu.Unlock()

	if !manual && wasConnected && h != nil {
		h.OnDisconnected(id, false, nil)
	}
	return nil
}

func (t *FakeTransport) DiscoverServices(id device.ID, services []string) {
	p, h, manual := t.record(Call{Op: OpDiscoverServices, ID: id, UUIDs: services})
	if manual || h == nil {
		return
	}
	if p == nil {
		h.OnServicesDiscovered(id, nil, device.ErrNotConnected)
		return
	}

	var found []string
	for _, want := range services {
		if s, ok := p.service(want); ok {
			found = append(found, device.NormalizeUUID(s.UUID))
		}
	}
	h.OnServicesDiscovered(id, found, nil)
}

func (t *FakeTransport) DiscoverCharacteristics(id device.ID, service string, characteristics []string) {
	p, h, manual := t.record(Call{Op: OpDiscoverCharacteristics, ID: id, Service: service, UUIDs: characteristics})
	if manual || h == nil {
		return
	}
	if p == nil {
		h.OnCharacteristicsDiscovered(id, service, nil, device.ErrNotConnected)
		return
	}
	if slices.Contains(p.HoldCharacteristics, device.NormalizeUUID(service)) {
		return
	}

	svc, _ := p.service(service)
	var infos []device.CharacteristicInfo
	for _, c := range svc.Characteristics {
		u := device.NormalizeUUID(c.UUID)
		if len(characteristics) > 0 && !slices.Contains(device.NormalizeUUIDs(characteristics), u) {
			continue
		}
		infos = append(infos, device.CharacteristicInfo{
			Service:    device.NormalizeUUID(service),
			UUID:       u,
			Properties: ParseProperties(c.Properties),
		})
	}
	h.OnCharacteristicsDiscovered(id, service, infos, nil)
}

func (t *FakeTransport) Read(id device.ID, service, characteristic string) {
	p, h, manual := t.record(Call{Op: OpRead, ID: id, Service: service, Char: characteristic})
	if manual || h == nil {
		return
	}
	if p == nil {
		h.OnValue(id, service, characteristic, nil, device.ErrNotConnected)
		return
	}
	c, ok := p.characteristic(service, characteristic)
	if !ok {
		h.OnValue(id, service, characteristic, nil, device.ErrUnsupported)
		return
	}
	h.OnValue(id, service, characteristic, c.Value, nil)
}

func (t *FakeTransport) Subscribe(id device.ID, service, characteristic string) {
	_, h, manual := t.record(Call{Op: OpSubscribe, ID: id, Service: service, Char: characteristic})

	t.mu.Lock()
	t.subscribed[subKey(id, service, characteristic)] = true
	t.mu.Unlock()

	if manual || h == nil {
		return
	}
	h.OnNotifyState(id, service, characteristic, true, nil)
}

// clearSubscriptions must be called with t.mu held
func (t *FakeTransport) clearSubscriptions(id device.ID) {
	prefix := string(id) + "/"
	for k := range t.subscribed {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(t.subscribed, k)
		}
	}
}

func subKey(id device.ID, service, char string) string {
	return string(id) + "/" + device.NormalizeUUID(service) + "/" + device.NormalizeUUID(char)
}

var _ device.Transport = (*FakeTransport)(nil)

// Close implements io.Closer
func (t *FakeTransport) Close() error {
	return nil
}
