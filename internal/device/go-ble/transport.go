package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/grillprobe/internal/device"
	"github.com/srg/grillprobe/internal/groutine"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultRequestQueueSize bounds the number of pending requests per peer
const DefaultRequestQueueSize = 64

// Transport implements device.Transport on top of go-ble.
//
// go-ble calls are synchronous; every request is executed on a per-peer worker
// goroutine so that requests for one device are serialized while different
// devices proceed independently. Results are reported through the installed
// device.EventHandler.
type Transport struct {
	logger *logrus.Logger

	mu      sync.Mutex
	dev     ble.Device
	handler device.EventHandler
	peers   map[device.ID]*peer
	closed  bool
}

// peer is the transport-side state of one device connection
type peer struct {
	id     device.ID
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan func(ctx context.Context)

	mu       sync.Mutex
	client   ble.Client
	closing  bool
	services *orderedmap.OrderedMap[string, *ble.Service]
	chars    *orderedmap.OrderedMap[string, *ble.Characteristic]
}

// NewTransport creates a go-ble backed transport. The underlying ble.Device is
// created lazily by DeviceFactory on first use.
func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{
		logger: logger,
		peers:  make(map[device.ID]*peer),
	}
}

// SetHandler installs the event receiver
func (t *Transport) SetHandler(h device.EventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *Transport) eventHandler() device.EventHandler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, device.ErrTransportClosed
	}
	if t.dev != nil {
		return t.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	t.dev = dev
	return dev, nil
}

// Scan blocks until ctx is done, reporting advertisements of the requested services
func (t *Transport) Scan(ctx context.Context, services []string, handler func(device.Advertisement)) error {
	dev, err := t.device()
	if err != nil {
		return err
	}

	t.logger.WithField("services", services).Debug("Starting BLE scan")
	err = dev.Scan(ctx, false, func(adv ble.Advertisement) {
		if !advertisesAny(adv.Services(), services) {
			return
		}
		handler(newAdvertisement(adv))
	})
	return NormalizeError(err)
}

// Connect dials the device on its own worker; the outcome is reported via
// OnConnected or OnConnectFailed.
func (t *Transport) Connect(id device.ID) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.emitAsync("connect-failed", func(h device.EventHandler) { h.OnConnectFailed(id, device.ErrTransportClosed) })
		return
	}
	if _, exists := t.peers[id]; exists {
		t.mu.Unlock()
		t.emitAsync("connect-failed", func(h device.EventHandler) { h.OnConnectFailed(id, device.ErrAlreadyConnected) })
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan func(ctx context.Context), DefaultRequestQueueSize),
		services: orderedmap.New[string, *ble.Service](),
		chars:    orderedmap.New[string, *ble.Characteristic](),
	}
	t.peers[id] = p
	t.mu.Unlock()

	groutine.Go(ctx, "goble-peer-"+string(id), p.run)
	p.enqueue(func(ctx context.Context) { t.dial(ctx, p) })
}

func (t *Transport) dial(ctx context.Context, p *peer) {
	logger := t.logger.WithField("device_id", p.id)

	dev, err := t.device()
	if err == nil {
		logger.Debug("Dialing BLE device...")
		var client ble.Client
		client, err = dev.Dial(ctx, ble.NewAddr(string(p.id)))
		if err == nil {
			p.mu.Lock()
			aborted := p.closing || ctx.Err() != nil
			if !aborted {
				p.client = client
			}
			p.mu.Unlock()

			if aborted {
				// the dial outlived CancelConnection: nobody tracks this link
				logger.Debug("Dial completed after cancellation, dropping the connection")
				if cerr := NormalizeError(client.CancelConnection()); cerr != nil {
					logger.WithField("error", cerr).Warn("Failed to cancel BLE connection")
				}
				t.removePeer(p)
				t.emit(func(h device.EventHandler) { h.OnConnectFailed(p.id, device.ErrConnectCanceled) })
				return
			}

			if notifier, ok := client.(disconnectNotifier); ok {
				groutine.Go(ctx, "goble-disconnect-monitor", func(ctx context.Context) {
					t.monitor(ctx, p, notifier)
				})
			} else {
				logger.Debug("Client does not support Disconnected() channel")
			}

			logger.Info("BLE device connected")
			t.emit(func(h device.EventHandler) { h.OnConnected(p.id) })
			return
		}
	}

	err = NormalizeError(err)
	logger.WithField("error", err).Warn("Failed to dial BLE device")
	t.removePeer(p)
	t.emit(func(h device.EventHandler) { h.OnConnectFailed(p.id, err) })
}

// disconnectNotifier is implemented by go-ble clients that report link loss
type disconnectNotifier interface {
	Disconnected() <-chan struct{}
}

// monitor waits for the go-ble client to report a disconnection
func (t *Transport) monitor(ctx context.Context, p *peer, client disconnectNotifier) {
	select {
	case <-client.Disconnected():
	case <-ctx.Done():
		return
	}

	p.mu.Lock()
	requested := p.closing
	p.mu.Unlock()

	var cause error
	if !requested {
		cause = device.ErrDisconnected
	}

	t.logger.WithFields(logrus.Fields{
		"device_id": p.id,
		"requested": requested,
	}).Info("BLE device disconnected")

	t.removePeer(p)
	t.emit(func(h device.EventHandler) { h.OnDisconnected(p.id, false, cause) })
}

// CancelConnection aborts a pending dial or tears down an established connection.
// Unknown IDs are ignored.
func (t *Transport) CancelConnection(id device.ID) error {
	p := t.peer(id)
	if p == nil {
		return nil
	}

	p.mu.Lock()
	p.closing = true
	client := p.client
	p.mu.Unlock()

	if client == nil {
		// still dialing: aborting the dial context makes Dial return, and a
		// dial that completes anyway is dropped by dial
		t.removePeer(p)
		return nil
	}

	groutine.Go(context.Background(), "goble-cancel-connection", func(_ context.Context) {
		if err := NormalizeError(client.CancelConnection()); err != nil {
			t.logger.WithFields(logrus.Fields{
				"device_id": id,
				"error":     err,
			}).Warn("Failed to cancel BLE connection")
		}
	})
	return nil
}

// DiscoverServices discovers the requested services and caches their handles
func (t *Transport) DiscoverServices(id device.ID, services []string) {
	t.request(id, func(p *peer, client ble.Client) {
		filter, err := parseUUIDs(services)
		var found []*ble.Service
		if err == nil {
			found, err = client.DiscoverServices(filter)
		}
		if err != nil {
			err = NormalizeError(err)
			t.emit(func(h device.EventHandler) { h.OnServicesDiscovered(id, nil, err) })
			return
		}

		uuids := make([]string, 0, len(found))
		p.mu.Lock()
		for _, svc := range found {
			u := device.NormalizeUUID(svc.UUID.String())
			p.services.Set(u, svc)
			uuids = append(uuids, u)
		}
		p.mu.Unlock()

		t.emit(func(h device.EventHandler) { h.OnServicesDiscovered(id, uuids, nil) })
	}, func(err error) {
		t.emit(func(h device.EventHandler) { h.OnServicesDiscovered(id, nil, err) })
	})
}

// DiscoverCharacteristics discovers characteristics of a previously discovered service.
// Descriptors of notifiable characteristics are discovered as well, since go-ble
// needs the CCCD handle to subscribe.
func (t *Transport) DiscoverCharacteristics(id device.ID, service string, characteristics []string) {
	service = device.NormalizeUUID(service)
	t.request(id, func(p *peer, client ble.Client) {
		p.mu.Lock()
		svc, ok := p.services.Get(service)
		p.mu.Unlock()
		if !ok {
			err := fmt.Errorf("service %s not discovered: %w", service, device.ErrUnsupported)
			t.emit(func(h device.EventHandler) { h.OnCharacteristicsDiscovered(id, service, nil, err) })
			return
		}

		filter, err := parseUUIDs(characteristics)
		var found []*ble.Characteristic
		if err == nil {
			found, err = client.DiscoverCharacteristics(filter, svc)
		}
		if err != nil {
			err = NormalizeError(err)
			t.emit(func(h device.EventHandler) { h.OnCharacteristicsDiscovered(id, service, nil, err) })
			return
		}

		infos := make([]device.CharacteristicInfo, 0, len(found))
		for _, c := range found {
			if c.Property&(ble.CharNotify|ble.CharIndicate) != 0 {
				if _, derr := client.DiscoverDescriptors(nil, c); derr != nil {
					t.logger.WithFields(logrus.Fields{
						"device_id":    id,
						"service_uuid": service,
						"char_uuid":    c.UUID.String(),
						"error":        derr,
					}).Warn("Failed to discover descriptors")
				}
			}

			u := device.NormalizeUUID(c.UUID.String())
			p.mu.Lock()
			p.chars.Set(charKey(service, u), c)
			p.mu.Unlock()

			infos = append(infos, device.CharacteristicInfo{
				Service:    service,
				UUID:       u,
				Properties: convertProperties(c.Property),
			})
		}

		t.emit(func(h device.EventHandler) { h.OnCharacteristicsDiscovered(id, service, infos, nil) })
	}, func(err error) {
		t.emit(func(h device.EventHandler) { h.OnCharacteristicsDiscovered(id, service, nil, err) })
	})
}

// Read reads a characteristic value; the result arrives via OnValue
func (t *Transport) Read(id device.ID, service, characteristic string) {
	service, characteristic = device.NormalizeUUID(service), device.NormalizeUUID(characteristic)
	t.request(id, func(p *peer, client ble.Client) {
		c, err := p.characteristic(service, characteristic)
		var value []byte
		if err == nil {
			value, err = client.ReadCharacteristic(c)
		}
		err = NormalizeError(err)
		t.emit(func(h device.EventHandler) { h.OnValue(id, service, characteristic, value, err) })
	}, func(err error) {
		t.emit(func(h device.EventHandler) { h.OnValue(id, service, characteristic, nil, err) })
	})
}

// Subscribe enables notifications (or indications) for a characteristic.
// Every notification is reported via OnValue.
func (t *Transport) Subscribe(id device.ID, service, characteristic string) {
	service, characteristic = device.NormalizeUUID(service), device.NormalizeUUID(characteristic)
	t.request(id, func(p *peer, client ble.Client) {
		c, err := p.characteristic(service, characteristic)
		if err == nil {
			indicate := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0
			err = client.Subscribe(c, indicate, func(data []byte) {
				value := append([]byte(nil), data...)
				t.emit(func(h device.EventHandler) { h.OnValue(id, service, characteristic, value, nil) })
			})
		}
		err = NormalizeError(err)
		t.emit(func(h device.EventHandler) { h.OnNotifyState(id, service, characteristic, err == nil, err) })
	}, func(err error) {
		t.emit(func(h device.EventHandler) { h.OnNotifyState(id, service, characteristic, false, err) })
	})
}

// Close cancels every peer and marks the transport unusable
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	peers := make([]*peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()

	var errs []error
	for _, p := range peers {
		errs = append(errs, t.CancelConnection(p.id))
	}
	return errors.Join(errs...)
}

// request schedules fn on the peer worker once connected; fail is invoked when
// the peer is unknown or not yet connected.
func (t *Transport) request(id device.ID, fn func(p *peer, client ble.Client), fail func(err error)) {
	p := t.peer(id)
	if p == nil {
		t.emitAsync("request-failed", func(device.EventHandler) { fail(device.ErrNotConnected) })
		return
	}

	if !p.enqueue(func(context.Context) {
		p.mu.Lock()
		client := p.client
		p.mu.Unlock()
		if client == nil {
			fail(device.ErrNotConnected)
			return
		}
		fn(p, client)
	}) {
		t.emitAsync("request-failed", func(device.EventHandler) { fail(device.ErrNotConnected) })
	}
}

func (t *Transport) peer(id device.ID) *peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peers[id]
}

func (t *Transport) removePeer(p *peer) {
	t.mu.Lock()
	if cur, ok := t.peers[p.id]; ok && cur == p {
		delete(t.peers, p.id)
	}
	t.mu.Unlock()
	p.cancel()
}

func (t *Transport) emit(fn func(h device.EventHandler)) {
	if h := t.eventHandler(); h != nil {
		fn(h)
	}
}

// emitAsync delivers an event from a fresh goroutine so that callers holding
// their own locks never re-enter the handler synchronously.
func (t *Transport) emitAsync(name string, fn func(h device.EventHandler)) {
	groutine.Go(context.Background(), "goble-"+name, func(context.Context) {
		t.emit(fn)
	})
}

// run executes queued requests until the peer context is cancelled
func (p *peer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-p.queue:
			fn(ctx)
		}
	}
}

func (p *peer) enqueue(fn func(ctx context.Context)) bool {
	select {
	case <-p.ctx.Done():
		return false
	case p.queue <- fn:
		return true
	}
}

func (p *peer) characteristic(service, characteristic string) (*ble.Characteristic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.chars.Get(charKey(service, characteristic))
	if !ok {
		return nil, fmt.Errorf("characteristic %s in service %s not discovered: %w", characteristic, service, device.ErrUnsupported)
	}
	return c, nil
}

func charKey(service, characteristic string) string {
	return service + "/" + characteristic
}
