package manager

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/grillprobe/internal/device"
)

// Transport callbacks. Each one only enqueues work onto the event loop, so
// transports may invoke them from any goroutine, including synchronously from
// within a request.

var _ device.EventHandler = (*Manager)(nil)

// OnAdvertisement records a device the first time it is seen and publishes it
// on the Discoveries stream. Repeated advertisements are ignored.
func (m *Manager) OnAdvertisement(adv device.Advertisement) {
	d := device.NewDiscoveredDevice(adv)
	m.do(func() {
		if _, seen := m.discovered.Get(d.ID); seen {
			return
		}
		m.discovered.Set(d.ID, d)
		m.discoveries.Send(d)

		m.logger.WithFields(logrus.Fields{
			"device_id": d.ID,
			"name":      d.Name,
			"rssi":      d.RSSI,
		}).Info("Discovered probe")
	})
}

func (m *Manager) OnConnected(id device.ID) {
	m.do(func() {
		if _, ok := m.attempts[id]; !ok {
			m.logger.WithField("device_id", id).Debug("Connected event without pending attempt, ignoring")
			return
		}
		m.logger.WithField("device_id", id).Debug("Transport connected, discovering services")
		m.transport.DiscoverServices(id, device.RequiredServices())
	})
}

func (m *Manager) OnConnectFailed(id device.ID, err error) {
	m.do(func() {
		a, ok := m.attempts[id]
		if !ok {
			return
		}
		m.resolve(a, nil, device.NewConnectFailed(err))
	})
}

func (m *Manager) OnDisconnected(id device.ID, reconnecting bool, err error) {
	m.do(func() {
		logger := m.logger.WithFields(logrus.Fields{
			"device_id": id,
			"error":     err,
		})
		if reconnecting {
			logger.Info("Transport is reconnecting")
			return
		}

		if a, ok := m.attempts[id]; ok {
			var cause error = device.ErrDisconnected
			if err != nil {
				cause = err
				if !errors.Is(err, device.ErrDisconnected) {
					cause = errors.Join(device.ErrDisconnected, err)
				}
			}
			m.resolve(a, nil, &device.ConnectionError{
				State: device.ConnectFailed,
				Msg:   "disconnected during handshake",
				Err:   cause,
			})
		}

		entry, ok := m.sessions[id]
		if !ok {
			return
		}
		delete(m.sessions, id)
		entry.session.OnDisconnect()

		if err != nil {
			logger.Warn("Probe connection lost")
			m.scheduleReconnect(id, err)
		} else {
			logger.Info("Probe disconnected")
		}
	})
}

func (m *Manager) OnServicesDiscovered(id device.ID, services []string, err error) {
	m.do(func() {
		a, ok := m.attempts[id]
		if !ok {
			return
		}
		if err != nil {
			m.fail(a, device.NewConnectFailed(err))
			return
		}

		found := make(map[string]bool, len(services))
		for _, s := range services {
			found[device.NormalizeUUID(s)] = true
		}
		for _, required := range device.RequiredServices() {
			if !found[required] {
				m.fail(a, &device.ConnectionError{
					State: device.MissingCapability,
					Msg:   fmt.Sprintf("service %s not found", required),
				})
				return
			}
		}

		a.services = device.RequiredServices()
		for _, svc := range a.services {
			m.transport.DiscoverCharacteristics(id, svc, device.KnownCharacteristics(svc))
		}
	})
}

func (m *Manager) OnCharacteristicsDiscovered(id device.ID, service string, characteristics []device.CharacteristicInfo, err error) {
	m.do(func() {
		a, ok := m.attempts[id]
		if !ok {
			return
		}
		if err != nil {
			m.fail(a, device.NewConnectFailed(fmt.Errorf("characteristic discovery for service %s: %w", service, err)))
			return
		}

		// a repeated report for a service replaces the earlier one
		service = device.NormalizeUUID(service)
		chars := make([]discoveredChar, 0, len(characteristics))
		for _, c := range characteristics {
			c.Service = service
			c.UUID = device.NormalizeUUID(c.UUID)
			chars = append(chars, discoveredChar{
				info: c,
				kind: device.ResolveKind(service, c.UUID),
			})
		}
		a.chars[service] = chars

		m.logger.WithFields(logrus.Fields{
			"device_id":       id,
			"service_uuid":    service,
			"characteristics": len(characteristics),
		}).Debug("Characteristics discovered")

		if len(a.services) == 0 {
			return
		}
		for _, svc := range a.services {
			if len(a.chars[svc]) == 0 {
				return
			}
		}
		m.complete(a)
	})
}

func (m *Manager) OnValue(id device.ID, service, characteristic string, value []byte, err error) {
	m.do(func() {
		logger := m.logger.WithFields(logrus.Fields{
			"device_id":    id,
			"service_uuid": service,
			"char_uuid":    characteristic,
		})

		entry, ok := m.sessions[id]
		if !ok {
			logger.Debug("Value for unknown device, dropping")
			return
		}
		if err != nil {
			logger.WithField("error", err).Warn("Characteristic value error")
			return
		}

		kind := entry.kinds[charKey(service, characteristic)]
		if aerr := entry.session.Apply(kind, value); aerr != nil {
			logger.WithFields(logrus.Fields{
				"kind":  kind,
				"error": aerr,
			}).Debug("Failed to decode characteristic value")
		}
	})
}

func (m *Manager) OnNotifyState(id device.ID, service, characteristic string, enabled bool, err error) {
	logger := m.logger.WithFields(logrus.Fields{
		"device_id":    id,
		"service_uuid": service,
		"char_uuid":    characteristic,
		"enabled":      enabled,
	})
	if err != nil {
		logger.WithField("error", err).Warn("Failed to subscribe to characteristic")
		return
	}
	logger.Debug("Subscribed to characteristic")
}
