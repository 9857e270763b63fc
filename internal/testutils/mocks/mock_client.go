package mocks

import (
	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockClient is a mock of ble.Client
type MockClient struct {
	mock.Mock
}

var _ ble.Client = (*MockClient)(nil)

func (_m *MockClient) Addr() ble.Addr {
	ret := _m.Called()
	if r0, ok := ret.Get(0).(ble.Addr); ok {
		return r0
	}
	return nil
}

func (_m *MockClient) Name() string {
	return _m.Called().String(0)
}

func (_m *MockClient) Profile() *ble.Profile {
	ret := _m.Called()
	if r0, ok := ret.Get(0).(*ble.Profile); ok {
		return r0
	}
	return nil
}

func (_m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	ret := _m.Called(force)
	r0, _ := ret.Get(0).(*ble.Profile)
	return r0, ret.Error(1)
}

func (_m *MockClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	ret := _m.Called(filter)
	r0, _ := ret.Get(0).([]*ble.Service)
	return r0, ret.Error(1)
}

func (_m *MockClient) DiscoverIncludedServices(filter []ble.UUID, s *ble.Service) ([]*ble.Service, error) {
	ret := _m.Called(filter, s)
	r0, _ := ret.Get(0).([]*ble.Service)
	return r0, ret.Error(1)
}

func (_m *MockClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	ret := _m.Called(filter, s)
	r0, _ := ret.Get(0).([]*ble.Characteristic)
	return r0, ret.Error(1)
}

func (_m *MockClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	ret := _m.Called(filter, c)
	r0, _ := ret.Get(0).([]*ble.Descriptor)
	return r0, ret.Error(1)
}

func (_m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	ret := _m.Called(c)
	r0, _ := ret.Get(0).([]byte)
	return r0, ret.Error(1)
}

func (_m *MockClient) ReadLongCharacteristic(c *ble.Characteristic) ([]byte, error) {
	ret := _m.Called(c)
	r0, _ := ret.Get(0).([]byte)
	return r0, ret.Error(1)
}

func (_m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return _m.Called(c, value, noRsp).Error(0)
}

func (_m *MockClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	ret := _m.Called(d)
	r0, _ := ret.Get(0).([]byte)
	return r0, ret.Error(1)
}

func (_m *MockClient) WriteDescriptor(d *ble.Descriptor, v []byte) error {
	return _m.Called(d, v).Error(0)
}

func (_m *MockClient) ReadRSSI() int {
	return _m.Called().Int(0)
}

func (_m *MockClient) ExchangeMTU(rxMTU int) (int, error) {
	ret := _m.Called(rxMTU)
	return ret.Int(0), ret.Error(1)
}

func (_m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return _m.Called(c, ind, h).Error(0)
}

func (_m *MockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return _m.Called(c, ind).Error(0)
}

func (_m *MockClient) ClearSubscriptions() error {
	return _m.Called().Error(0)
}

func (_m *MockClient) CancelConnection() error {
	return _m.Called().Error(0)
}

func (_m *MockClient) Disconnected() <-chan struct{} {
	ret := _m.Called()
	if r0, ok := ret.Get(0).(<-chan struct{}); ok {
		return r0
	}
	return nil
}

func (_m *MockClient) Conn() ble.Conn {
	ret := _m.Called()
	if r0, ok := ret.Get(0).(ble.Conn); ok {
		return r0
	}
	return nil
}
