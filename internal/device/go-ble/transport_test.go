package goble

import (
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/grillprobe/internal/device"
	"github.com/srg/grillprobe/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const peerID device.ID = "aa:bb:cc:dd:ee:01"

func TestConvertProperties(t *testing.T) {
	assert.Equal(t, device.PropRead|device.PropNotify, convertProperties(ble.CharRead|ble.CharNotify))
	assert.Equal(t, device.PropWrite|device.PropWriteWithoutResponse, convertProperties(ble.CharWrite|ble.CharWriteNR))
	assert.Equal(t, device.PropIndicate, convertProperties(ble.CharIndicate))
	assert.Equal(t, device.Properties(0), convertProperties(ble.CharBroadcast))
}

func TestAdvertisesAny(t *testing.T) {
	advertised := []ble.UUID{ble.UUID16(0xfb00), ble.UUID16(0x180a)}

	assert.True(t, advertisesAny(advertised, nil), "empty filter matches everything")
	assert.True(t, advertisesAny(advertised, []string{"FB00"}))
	assert.True(t, advertisesAny(advertised, []string{"0000180a-0000-1000-8000-00805f9b34fb"}))
	assert.False(t, advertisesAny(advertised, []string{"180d"}))
	assert.False(t, advertisesAny(nil, []string{"fb00"}))
}

func TestParseUUIDs(t *testing.T) {
	uuids, err := parseUUIDs(device.RequiredServices())
	require.NoError(t, err)
	require.Len(t, uuids, 2)
	assert.True(t, uuids[0].Equal(ble.UUID16(0xfb00)))
	assert.True(t, uuids[1].Equal(ble.UUID16(0x180a)))

	_, err = parseUUIDs([]string{"not-a-uuid"})
	assert.Error(t, err)
}

// ----------------------------
// Transport against a mocked go-ble device
// ----------------------------

// TransportSuite swaps DeviceFactory for a mocked peripheral per test
type TransportSuite struct {
	suite.Suite
	helper          *testutils.TestHelper
	originalFactory func() (ble.Device, error)
	transport       *Transport
	events          *recordingHandler
}

func (s *TransportSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.originalFactory = DeviceFactory
	s.transport = NewTransport(s.helper.Logger)
	s.events = newRecordingHandler()
	s.transport.SetHandler(s.events)
}

func (s *TransportSuite) TearDownTest() {
	s.NoError(s.transport.Close())
	DeviceFactory = s.originalFactory
}

// use makes the transport dial the given peripheral
func (s *TransportSuite) use(p *testutils.MockPeripheral) *testutils.MockPeripheral {
	DeviceFactory = func() (ble.Device, error) { return p.Device, nil }
	return p
}

// connect dials peerID and waits for OnConnected
func (s *TransportSuite) connect(p *testutils.MockPeripheral) *testutils.MockPeripheral {
	s.use(p)
	s.transport.Connect(peerID)
	ev := s.events.next(s.T())
	s.Require().Equal(evConnected, ev.kind, "unexpected event: %+v", ev)
	return p
}

// handshake connects and discovers both required services with their characteristics
func (s *TransportSuite) handshake(p *testutils.MockPeripheral) *testutils.MockPeripheral {
	s.connect(p)
	s.transport.DiscoverServices(peerID, device.RequiredServices())
	s.Require().Equal(evServices, s.events.next(s.T()).kind)
	for _, svc := range device.RequiredServices() {
		s.transport.DiscoverCharacteristics(peerID, svc, device.KnownCharacteristics(svc))
		ev := s.events.next(s.T())
		s.Require().Equal(evCharacteristics, ev.kind)
		s.Require().NoError(ev.err)
	}
	return p
}

// GOAL: Verify a successful dial reports OnConnected and dials the device address
func (s *TransportSuite) TestConnect() {
	p := s.connect(testutils.NewPeripheralBuilder().Build())

	s.Equal(1, p.Dials())
	p.Device.AssertCalled(s.T(), "Dial", mock.Anything, ble.NewAddr(string(peerID)))
}

// GOAL: Verify a dial failure is normalized, reported and forgets the peer
//
// TEST SCENARIO: Dial fails with an HCI error → OnConnectFailed(BluetoothOff), peer removed
func (s *TransportSuite) TestConnectDialFailure() {
	s.use(testutils.NewPeripheralBuilder().
		WithDialError(errors.New("can't init hci: permission denied")).Build())

	s.transport.Connect(peerID)

	ev := s.events.next(s.T())
	s.Equal(evConnectFailed, ev.kind)
	s.ErrorIs(ev.err, device.ErrBluetoothOff)
	s.Nil(s.transport.peer(peerID))
}

// GOAL: Verify a dial that completes after CancelConnection does not leave an untracked link
//
// TEST SCENARIO: Dial held → CancelConnection → Dial returns a client → client cancelled, OnConnectFailed, no OnConnected
func (s *TransportSuite) TestDialCompletingAfterCancelIsDropped() {
	gate := make(chan struct{})
	p := s.use(testutils.NewPeripheralBuilder().WithDialGate(gate).Build())

	s.transport.Connect(peerID)
	s.Eventually(func() bool { return p.Dials() == 1 }, time.Second, 5*time.Millisecond)

	s.NoError(s.transport.CancelConnection(peerID))
	close(gate)

	ev := s.events.next(s.T())
	s.Equal(evConnectFailed, ev.kind, "the late client must not be reported as connected")
	s.ErrorIs(ev.err, device.ErrConnectCanceled)
	s.Equal(1, p.Cancels(), "the late client is disconnected")
	s.Nil(s.transport.peer(peerID))
	s.events.none(s.T(), 50*time.Millisecond)
}

// GOAL: Verify service and characteristic discovery report normalized UUIDs and properties
//
// TEST SCENARIO: standard peripheral → both services found, FB00 yields 5 characteristics,
// descriptors discovered for the 3 notifiable ones
func (s *TransportSuite) TestDiscovery() {
	p := s.connect(testutils.NewPeripheralBuilder().Build())

	s.transport.DiscoverServices(peerID, device.RequiredServices())
	ev := s.events.next(s.T())
	s.Require().Equal(evServices, ev.kind)
	s.Require().NoError(ev.err)
	s.Equal([]string{device.ServiceProbe, device.ServiceDeviceInformation}, ev.services)

	s.transport.DiscoverCharacteristics(peerID, device.ServiceProbe, device.KnownCharacteristics(device.ServiceProbe))
	ev = s.events.next(s.T())
	s.Require().Equal(evCharacteristics, ev.kind)
	s.Require().NoError(ev.err)
	s.Equal(device.ServiceProbe, ev.service)
	s.Require().Len(ev.chars, 5)
	s.Equal(device.CharacteristicInfo{Service: device.ServiceProbe, UUID: device.CharTemperature, Properties: device.PropNotify}, ev.chars[1])
	p.Client.AssertNumberOfCalls(s.T(), "DiscoverDescriptors", 3)
}

// GOAL: Verify characteristic discovery of a service that was never discovered fails
func (s *TransportSuite) TestDiscoverCharacteristicsOfUnknownService() {
	s.connect(testutils.NewPeripheralBuilder().Build())

	s.transport.DiscoverCharacteristics(peerID, device.ServiceProbe, nil)
	ev := s.events.next(s.T())
	s.Equal(evCharacteristics, ev.kind)
	s.ErrorIs(ev.err, device.ErrUnsupported)
}

// GOAL: Verify Read returns the characteristic value, and undiscovered characteristics fail
func (s *TransportSuite) TestRead() {
	p := s.handshake(testutils.NewPeripheralBuilder().Build())

	s.transport.Read(peerID, device.ServiceDeviceInformation, device.CharManufacturerName)
	ev := s.events.next(s.T())
	s.Require().Equal(evValue, ev.kind)
	s.NoError(ev.err)
	s.Equal(device.CharManufacturerName, ev.char)
	s.Equal([]byte("Inkbird"), ev.value)

	s.transport.Read(peerID, device.ServiceDeviceInformation, "2a50")
	ev = s.events.next(s.T())
	s.Equal(evValue, ev.kind)
	s.ErrorIs(ev.err, device.ErrUnsupported)
	p.Client.AssertNumberOfCalls(s.T(), "ReadCharacteristic", 1)
}

// GOAL: Verify Subscribe enables notifications and forwards every notification as a value
func (s *TransportSuite) TestSubscribeForwardsNotifications() {
	p := s.handshake(testutils.NewPeripheralBuilder().Build())

	s.transport.Subscribe(peerID, device.ServiceProbe, device.CharTemperature)
	ev := s.events.next(s.T())
	s.Require().Equal(evNotifyState, ev.kind)
	s.NoError(ev.err)
	s.True(ev.enabled)
	p.Client.AssertCalled(s.T(), "Subscribe", p.Characteristic(device.ServiceProbe, device.CharTemperature), false, mock.Anything)

	payload := []byte{0, 0, 0xb0, 0x04, 0x5c, 0x0b}
	s.Require().True(p.Notify(device.ServiceProbe, device.CharTemperature, payload))
	payload[2] = 0xff

	ev = s.events.next(s.T())
	s.Require().Equal(evValue, ev.kind)
	s.Equal(device.CharTemperature, ev.char)
	s.Equal([]byte{0, 0, 0xb0, 0x04, 0x5c, 0x0b}, ev.value, "the notification buffer is copied")
}

// GOAL: Verify an unexpected link loss is reported with Disconnected as the cause
func (s *TransportSuite) TestLinkLoss() {
	p := s.connect(testutils.NewPeripheralBuilder().Build())

	p.DropLink()

	ev := s.events.next(s.T())
	s.Equal(evDisconnected, ev.kind)
	s.ErrorIs(ev.err, device.ErrDisconnected)
	s.Nil(s.transport.peer(peerID))
}

// GOAL: Verify a requested disconnect cancels the client and reports no cause
func (s *TransportSuite) TestCancelConnectedPeer() {
	p := s.connect(testutils.NewPeripheralBuilder().Build())

	s.NoError(s.transport.CancelConnection(peerID))

	ev := s.events.next(s.T())
	s.Equal(evDisconnected, ev.kind)
	s.NoError(ev.err)
	s.Equal(1, p.Cancels())
}

// GOAL: Verify requests for unknown peers fail through the event handler rather than blocking
//
// TEST SCENARIO: Read on a never-connected ID → OnValue with ErrNotConnected
func (s *TransportSuite) TestRequestWithoutPeer() {
	s.transport.Read("aa:bb", device.ServiceProbe, device.CharDeviceName)

	ev := s.events.next(s.T())
	s.Equal(evValue, ev.kind)
	s.ErrorIs(ev.err, device.ErrNotConnected)
	s.NoError(s.transport.CancelConnection("aa:bb"), "cancelling an unknown peer is a no-op")
}

// GOAL: Verify a closed transport refuses new connections
//
// TEST SCENARIO: Close, then Connect → OnConnectFailed with ErrTransportClosed
func (s *TransportSuite) TestConnectAfterClose() {
	s.Require().NoError(s.transport.Close())
	s.transport.Connect("aa:bb")

	ev := s.events.next(s.T())
	s.Equal(evConnectFailed, ev.kind)
	s.ErrorIs(ev.err, device.ErrTransportClosed)
}

func TestTransportSuite(t *testing.T) {
	suite.Run(t, new(TransportSuite))
}

// ----------------------------
// Event recording
// ----------------------------

type eventKind string

const (
	evConnected       eventKind = "connected"
	evConnectFailed   eventKind = "connect_failed"
	evDisconnected    eventKind = "disconnected"
	evServices        eventKind = "services"
	evCharacteristics eventKind = "characteristics"
	evValue           eventKind = "value"
	evNotifyState     eventKind = "notify_state"
)

type event struct {
	kind     eventKind
	id       device.ID
	service  string
	char     string
	services []string
	chars    []device.CharacteristicInfo
	value    []byte
	enabled  bool
	err      error
}

type recordingHandler struct {
	events chan event
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{events: make(chan event, 64)}
}

// next returns the next event or fails the test after a second
func (h *recordingHandler) next(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(time.Second):
		require.FailNow(t, "no transport event")
		return event{}
	}
}

// none asserts that no event arrives within d
func (h *recordingHandler) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-h.events:
		assert.Fail(t, "unexpected transport event", "%+v", ev)
	case <-time.After(d):
	}
}

func (h *recordingHandler) OnConnected(id device.ID) {
	h.events <- event{kind: evConnected, id: id}
}

func (h *recordingHandler) OnConnectFailed(id device.ID, err error) {
	h.events <- event{kind: evConnectFailed, id: id, err: err}
}

func (h *recordingHandler) OnDisconnected(id device.ID, _ bool, err error) {
	h.events <- event{kind: evDisconnected, id: id, err: err}
}

func (h *recordingHandler) OnServicesDiscovered(id device.ID, services []string, err error) {
	h.events <- event{kind: evServices, id: id, services: services, err: err}
}

func (h *recordingHandler) OnCharacteristicsDiscovered(id device.ID, service string, chars []device.CharacteristicInfo, err error) {
	h.events <- event{kind: evCharacteristics, id: id, service: service, chars: chars, err: err}
}

func (h *recordingHandler) OnValue(id device.ID, service, char string, value []byte, err error) {
	h.events <- event{kind: evValue, id: id, service: service, char: char, value: value, err: err}
}

func (h *recordingHandler) OnNotifyState(id device.ID, service, char string, enabled bool, err error) {
	h.events <- event{kind: evNotifyState, id: id, service: service, char: char, enabled: enabled, err: err}
}
