// Package mocks holds testify/mock implementations of the go-ble interfaces.
package mocks

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockDevice is a mock of ble.Device
type MockDevice struct {
	mock.Mock
}

var _ ble.Device = (*MockDevice)(nil)

func (_m *MockDevice) AddService(svc *ble.Service) error {
	return _m.Called(svc).Error(0)
}

func (_m *MockDevice) RemoveAllServices() error {
	return _m.Called().Error(0)
}

func (_m *MockDevice) SetServices(svcs []*ble.Service) error {
	return _m.Called(svcs).Error(0)
}

func (_m *MockDevice) Stop() error {
	return _m.Called().Error(0)
}

func (_m *MockDevice) Advertise(ctx context.Context, adv ble.Advertisement) error {
	return _m.Called(ctx, adv).Error(0)
}

func (_m *MockDevice) AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error {
	return _m.Called(ctx, name, uuids).Error(0)
}

func (_m *MockDevice) AdvertiseMfgData(ctx context.Context, id uint16, b []byte) error {
	return _m.Called(ctx, id, b).Error(0)
}

func (_m *MockDevice) AdvertiseServiceData16(ctx context.Context, id uint16, b []byte) error {
	return _m.Called(ctx, id, b).Error(0)
}

func (_m *MockDevice) AdvertiseIBeaconData(ctx context.Context, b []byte) error {
	return _m.Called(ctx, b).Error(0)
}

func (_m *MockDevice) AdvertiseIBeacon(ctx context.Context, u ble.UUID, major, minor uint16, pwr int8) error {
	return _m.Called(ctx, u, major, minor, pwr).Error(0)
}

func (_m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return _m.Called(ctx, allowDup, h).Error(0)
}

func (_m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	ret := _m.Called(ctx, a)

	var r0 ble.Client
	if rf, ok := ret.Get(0).(func(context.Context, ble.Addr) ble.Client); ok {
		r0 = rf(ctx, a)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(ble.Client)
	}
	return r0, ret.Error(1)
}
