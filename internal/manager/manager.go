// Package manager discovers temperature probes, serializes connection attempts,
// drives the connection handshake and routes characteristic values to the
// per-device sessions.
//
// All registry state is owned by a single event-loop goroutine. Public methods
// and transport callbacks enqueue closures onto that loop, so no registry is
// ever touched concurrently.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	defaults "github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/grillprobe/internal/device"
	"github.com/srg/grillprobe/internal/groutine"
	"github.com/srg/grillprobe/internal/probe"
	"github.com/srg/grillprobe/internal/ringchan"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Options configures a Manager
type Options struct {
	// ConnectTimeout bounds the whole handshake, from Connect to subscriptions
	ConnectTimeout time.Duration `default:"30s"`

	// DiscoveryBuffer is the capacity of the Discoveries stream
	DiscoveryBuffer int `default:"64"`

	// Reconnect decides what happens after a session drops with an error.
	// Defaults to NoReconnect.
	Reconnect ReconnectPolicy
}

// Manager is the connection manager for temperature probes
type Manager struct {
	transport device.Transport
	logger    *logrus.Logger
	opts      Options

	// event queue
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	stopped chan struct{}

	// owned by the event loop
	discovered *orderedmap.OrderedMap[device.ID, device.DiscoveredDevice]
	attempts   map[device.ID]*attempt
	sessions   map[device.ID]*sessionEntry
	reconnects map[device.ID]*reconnectJob

	discoveries *ringchan.RingChannel[device.DiscoveredDevice]
}

// attempt is a pending connection. It is resolved exactly once, and removed
// from the registry in the same loop step.
type attempt struct {
	id       device.ID
	result   chan attemptResult
	resolved bool
	timer    *time.Timer
	services []string
	chars    map[string][]discoveredChar
}

type attemptResult struct {
	session *probe.Session
	err     error
}

type discoveredChar struct {
	info device.CharacteristicInfo
	kind device.CharacteristicKind
}

type sessionEntry struct {
	session *probe.Session
	kinds   map[string]device.CharacteristicKind
}

type reconnectJob struct {
	cancel context.CancelFunc
}

// New creates a Manager bound to the given transport and starts its event loop.
// The manager installs itself as the transport event handler.
func New(transport device.Transport, opts Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)
	if opts.Reconnect == nil {
		opts.Reconnect = NoReconnect{}
	}

	m := &Manager{
		transport:   transport,
		logger:      logger,
		opts:        opts,
		stopped:     make(chan struct{}),
		discovered:  orderedmap.New[device.ID, device.DiscoveredDevice](),
		attempts:    make(map[device.ID]*attempt),
		sessions:    make(map[device.ID]*sessionEntry),
		reconnects:  make(map[device.ID]*reconnectJob),
		discoveries: ringchan.New[device.DiscoveredDevice](opts.DiscoveryBuffer),
	}
	m.cond = sync.NewCond(&m.mu)

	transport.SetHandler(m)
	groutine.Go(context.Background(), "probe-manager-loop", m.run)
	return m
}

// ----------------------------
// Event loop
// ----------------------------

func (m *Manager) run(ctx context.Context) {
	defer close(m.stopped)
	defer m.logger.Debugf("%s: exiting", groutine.GetName(ctx))
	for {
		fn, ok := m.next()
		if !ok {
			return
		}
		fn()
	}
}

func (m *Manager) next() (func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.pending) == 0 {
		if m.closed {
			return nil, false
		}
		m.cond.Wait()
	}
	fn := m.pending[0]
	m.pending[0] = nil
	m.pending = m.pending[1:]
	return fn, true
}

// do enqueues fn onto the event loop. Returns false once the manager is closed.
func (m *Manager) do(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.pending = append(m.pending, fn)
	m.cond.Signal()
	return true
}

// call runs fn on the event loop and waits for it to finish.
// Must never be called from the loop itself.
func (m *Manager) call(fn func()) bool {
	done := make(chan struct{})
	if !m.do(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	<-done
	return true
}

// Close stops the event loop. Pending attempts are resolved with
// ErrConnectCanceled and live connections are cancelled.
func (m *Manager) Close() error {
	m.mu.Lock()
	if !m.closed {
		m.pending = append(m.pending, m.shutdown)
		m.closed = true
		m.cond.Signal()
	}
	m.mu.Unlock()

	<-m.stopped
	return nil
}

func (m *Manager) shutdown() {
	for id, job := range m.reconnects {
		job.cancel()
		delete(m.reconnects, id)
	}
	for _, a := range m.attempts {
		m.fail(a, errManagerClosed())
	}
	for id, entry := range m.sessions {
		delete(m.sessions, id)
		entry.session.OnDisconnect()
		m.cancelTransport(id)
	}
	m.discoveries.Close()
	m.logger.Debug("Probe manager stopped")
}

func errManagerClosed() error {
	return &device.ConnectionError{State: device.ConnectCanceled, Msg: "manager closed"}
}

// ----------------------------
// Public API
// ----------------------------

// Discoveries streams every newly discovered device exactly once. The stream
// holds Options.DiscoveryBuffer entries; when it is full the oldest unread
// entry is dropped and counted in its Overwritten metric. The stream is closed
// by Close.
func (m *Manager) Discoveries() *ringchan.RingChannel[device.DiscoveredDevice] {
	return m.discoveries
}

// Discover scans for probes until ctx is done. Context cancellation or deadline
// is the normal end of a scan and is not reported as an error.
func (m *Manager) Discover(ctx context.Context) error {
	m.logger.Info("Scanning for probes...")
	err := m.transport.Scan(ctx, []string{device.ServiceProbe}, m.OnAdvertisement)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return fmt.Errorf("scan failed: %w", err)
}

// Connect connects to a discovered device and drives the handshake to
// completion. It blocks until the attempt is resolved, the handshake times out
// or ctx is done.
func (m *Manager) Connect(ctx context.Context, id device.ID) (*probe.Session, error) {
	var (
		a   *attempt
		err error
	)
	if !m.call(func() { a, err = m.beginAttempt(id) }) {
		return nil, errManagerClosed()
	}
	if err != nil {
		return nil, err
	}

	select {
	case r := <-a.result:
		return r.session, r.err
	case <-ctx.Done():
		cause := ctx.Err()
		m.do(func() { m.fail(a, cause) })
		// the loop may have resolved the attempt first; either way exactly
		// one result is delivered
		r := <-a.result
		return r.session, r.err
	}
}

// CancelConnect aborts a pending connection attempt. The blocked Connect call
// returns ErrConnectCanceled.
func (m *Manager) CancelConnect(id device.ID) error {
	var err error
	if !m.call(func() {
		a, ok := m.attempts[id]
		if !ok {
			err = &device.ConnectionError{State: device.NotConnected, Msg: "no pending connection attempt for " + string(id)}
			return
		}
		m.fail(a, device.ErrConnectCanceled)
	}) {
		return errManagerClosed()
	}
	return err
}

// Disconnect tears down the session and any residual attempt for id.
// Disconnecting an unknown or already disconnected device is a no-op.
func (m *Manager) Disconnect(id device.ID) error {
	var err error
	if !m.call(func() {
		if job, ok := m.reconnects[id]; ok {
			job.cancel()
			delete(m.reconnects, id)
		}
		if a, ok := m.attempts[id]; ok {
			m.resolve(a, nil, device.ErrConnectCanceled)
		}
		if entry, ok := m.sessions[id]; ok {
			delete(m.sessions, id)
			entry.session.OnDisconnect()
			m.logger.WithField("device_id", id).Info("Probe disconnected")
		}
		err = m.transport.CancelConnection(id)
	}) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to cancel connection to %s: %w", id, err)
	}
	return nil
}

// Sessions returns the live sessions, in discovery order
func (m *Manager) Sessions() []*probe.Session {
	var out []*probe.Session
	m.call(func() {
		out = make([]*probe.Session, 0, len(m.sessions))
		seen := make(map[device.ID]bool, len(m.sessions))
		for pair := m.discovered.Oldest(); pair != nil; pair = pair.Next() {
			if entry, ok := m.sessions[pair.Key]; ok {
				out = append(out, entry.session)
				seen[pair.Key] = true
			}
		}
		for id, entry := range m.sessions {
			if !seen[id] {
				out = append(out, entry.session)
			}
		}
	})
	return out
}

// Session returns the live session for id
func (m *Manager) Session(id device.ID) (*probe.Session, bool) {
	var (
		s  *probe.Session
		ok bool
	)
	m.call(func() {
		var entry *sessionEntry
		if entry, ok = m.sessions[id]; ok {
			s = entry.session
		}
	})
	return s, ok
}

// Discovered returns every device seen so far, in discovery order
func (m *Manager) Discovered() []device.DiscoveredDevice {
	var out []device.DiscoveredDevice
	m.call(func() {
		out = make([]device.DiscoveredDevice, 0, m.discovered.Len())
		for pair := m.discovered.Oldest(); pair != nil; pair = pair.Next() {
			out = append(out, pair.Value)
		}
	})
	return out
}

// ----------------------------
// Attempt lifecycle (event loop only)
// ----------------------------

func (m *Manager) beginAttempt(id device.ID) (*attempt, error) {
	if _, ok := m.attempts[id]; ok {
		return nil, device.ErrAlreadyConnecting
	}
	if _, ok := m.sessions[id]; ok {
		return nil, device.ErrAlreadyConnected
	}
	if _, ok := m.discovered.Get(id); !ok {
		return nil, &device.ConnectionError{State: device.NotDiscovered, Msg: string(id)}
	}

	a := &attempt{
		id:     id,
		result: make(chan attemptResult, 1),
		chars:  make(map[string][]discoveredChar),
	}
	timeout := m.opts.ConnectTimeout
	a.timer = time.AfterFunc(timeout, func() {
		m.do(func() {
			m.fail(a, &device.ConnectionError{State: device.HandshakeTimeout, Msg: timeout.String()})
		})
	})
	m.attempts[id] = a

	m.logger.WithFields(logrus.Fields{
		"device_id": id,
		"timeout":   timeout,
	}).Info("Connecting to probe...")
	m.transport.Connect(id)
	return a, nil
}

// resolve delivers the attempt outcome. Returns false if it was already resolved.
func (m *Manager) resolve(a *attempt, s *probe.Session, err error) bool {
	if a.resolved {
		return false
	}
	a.resolved = true
	a.timer.Stop()
	if cur, ok := m.attempts[a.id]; ok && cur == a {
		delete(m.attempts, a.id)
	}

	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"device_id": a.id,
			"error":     err,
		}).Error("Connection attempt failed")
	}
	a.result <- attemptResult{session: s, err: err}
	return true
}

// fail drops the transport connection and resolves the attempt with err.
// Already resolved attempts are left alone.
func (m *Manager) fail(a *attempt, err error) {
	if a.resolved {
		return
	}
	m.cancelTransport(a.id)
	m.resolve(a, nil, err)
}

func (m *Manager) cancelTransport(id device.ID) {
	if err := m.transport.CancelConnection(id); err != nil {
		m.logger.WithFields(logrus.Fields{
			"device_id": id,
			"error":     err,
		}).Warn("Failed to cancel transport connection")
	}
}

// complete registers the session, resolves the attempt and starts the
// value stream.
func (m *Manager) complete(a *attempt) {
	entry := &sessionEntry{
		session: probe.NewSession(a.id),
		kinds:   make(map[string]device.CharacteristicKind),
	}
	var ordered []discoveredChar
	for _, svc := range a.services {
		for _, c := range a.chars[svc] {
			entry.kinds[charKey(svc, c.info.UUID)] = c.kind
			ordered = append(ordered, c)
		}
	}
	entry.session.OnConnected()

	m.sessions[a.id] = entry
	if job, ok := m.reconnects[a.id]; ok {
		job.cancel()
		delete(m.reconnects, a.id)
	}
	m.resolve(a, entry.session, nil)

	m.logger.WithFields(logrus.Fields{
		"device_id":       a.id,
		"characteristics": len(ordered),
	}).Info("Probe connected")

	for _, c := range ordered {
		if c.info.Properties.CanRead() {
			m.transport.Read(a.id, c.info.Service, c.info.UUID)
		}
		if c.info.Properties.CanNotify() {
			m.transport.Subscribe(a.id, c.info.Service, c.info.UUID)
		}
	}
}

// scheduleReconnect asks the reconnect policy whether to connect id again
// after its session dropped with cause.
func (m *Manager) scheduleReconnect(id device.ID, cause error) {
	if _, ok := m.reconnects[id]; ok {
		return
	}
	if _, retry := m.opts.Reconnect.Next(id, 1, cause); !retry {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &reconnectJob{cancel: cancel}
	m.reconnects[id] = job

	groutine.Go(ctx, "probe-reconnect", func(ctx context.Context) {
		defer m.do(func() {
			if cur, ok := m.reconnects[id]; ok && cur == job {
				delete(m.reconnects, id)
			}
		})
		defer cancel()

		for n := 1; ; n++ {
			delay, retry := m.opts.Reconnect.Next(id, n, cause)
			if !retry {
				m.logger.WithField("device_id", id).Info("Giving up reconnecting")
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			m.logger.WithFields(logrus.Fields{
				"device_id": id,
				"attempt":   n,
			}).Info("Reconnecting to probe")

			_, err := m.Connect(ctx, id)
			if err == nil ||
				errors.Is(err, device.ErrAlreadyConnected) ||
				errors.Is(err, device.ErrAlreadyConnecting) ||
				errors.Is(err, device.ErrConnectCanceled) ||
				ctx.Err() != nil {
				return
			}
			cause = err
		}
	})
}

func charKey(service, characteristic string) string {
	return device.NormalizeUUID(service) + "/" + device.NormalizeUUID(characteristic)
}
