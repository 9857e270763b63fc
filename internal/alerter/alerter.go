// Package alerter watches probe temperatures and raises an alert when a
// measurement reaches its configured target.
//
// Every (device, measurement) pair is tracked by a thermometer with two
// states. An Idle thermometer triggers once the current value reaches the
// target and emits exactly one alert on that edge. A Triggered thermometer
// re-arms when the target changes or the value falls more than Margin below
// the value it triggered at.
package alerter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	defaults "github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/grillprobe/internal/device"
	"github.com/srg/grillprobe/internal/probe"
	"github.com/srg/grillprobe/internal/ringchan"
)

// Measurement identifies which temperature of a probe is watched
type Measurement int

const (
	MeasurementProbe Measurement = iota
	MeasurementGrill
)

func (m Measurement) String() string {
	switch m {
	case MeasurementProbe:
		return "probe"
	case MeasurementGrill:
		return "grill"
	default:
		return fmt.Sprintf("Measurement(%d)", int(m))
	}
}

// Measurements lists every watched measurement
func Measurements() []Measurement {
	return []Measurement{MeasurementProbe, MeasurementGrill}
}

// Targets are the alert thresholds of one device, in °C
type Targets struct {
	Probe float64
	Grill float64
}

// For returns the target of a measurement
func (t Targets) For(m Measurement) float64 {
	if m == MeasurementGrill {
		return t.Grill
	}
	return t.Probe
}

// TargetSource provides the configured targets of a device.
// ok is false when the device has no targets; such devices are not watched.
type TargetSource interface {
	TargetsFor(ctx context.Context, id device.ID) (t Targets, ok bool, err error)
}

// SessionSource provides the live sessions to evaluate
type SessionSource interface {
	Sessions() []*probe.Session
}

// Alert is emitted once per Idle → Triggered edge
type Alert struct {
	ID          uuid.UUID
	Device      device.ID
	Name        string
	Measurement Measurement
	Value       float64
	Target      float64
	At          time.Time
}

// Title is the short notification text
func (a Alert) Title() string {
	return fmt.Sprintf("Target %s temperature reached", a.Measurement)
}

// Body is the notification text naming the probe and its reading
func (a Alert) Body() string {
	return fmt.Sprintf("%s is at (%.1f°C)", a.Name, a.Value)
}

// Options configures an Alerter
type Options struct {
	// Interval between two checks in Run
	Interval time.Duration `default:"1s"`

	// Margin is how far below the triggered value a reading has to fall to
	// re-arm the thermometer
	Margin float64 `default:"2"`

	// Buffer is the capacity of the Alerts stream
	Buffer int `default:"32"`
}

// Alerter evaluates thermometers against targets
type Alerter struct {
	sessions SessionSource
	targets  TargetSource
	opts     Options
	logger   *logrus.Logger

	mu           sync.Mutex
	thermometers map[uuid.UUID]*thermometer

	alerts *ringchan.RingChannel[Alert]
	now    func() time.Time
}

type thermometer struct {
	id          uuid.UUID
	device      device.ID
	measurement Measurement
	triggered   bool
	value       float64
	target      float64
}

// New creates an alerter. Options zero values are replaced by defaults.
func New(sessions SessionSource, targets TargetSource, opts Options, logger *logrus.Logger) *Alerter {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)
	return &Alerter{
		sessions:     sessions,
		targets:      targets,
		opts:         opts,
		logger:       logger,
		thermometers: make(map[uuid.UUID]*thermometer),
		alerts:       ringchan.New[Alert](opts.Buffer),
		now:          time.Now,
	}
}

// ThermometerID is the stable identifier of a (device, measurement) pair
func ThermometerID(id device.ID, m Measurement) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s - %s", id, m)))
}

// Alerts streams emitted alerts. A slow consumer loses the oldest ones.
// The stream is closed when Run returns.
func (a *Alerter) Alerts() *ringchan.RingChannel[Alert] {
	return a.alerts
}

// Run checks on every interval until ctx is done
func (a *Alerter) Run(ctx context.Context) {
	defer a.alerts.Close()

	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Check(ctx)
		}
	}
}

// Check evaluates every live session once and returns the alerts raised.
// Alerts are also delivered on the Alerts stream.
func (a *Alerter) Check(ctx context.Context) []Alert {
	var raised []Alert
	for _, s := range a.sessions.Sessions() {
		if s == nil {
			continue
		}
		snap := s.Snapshot()

		targets, ok, err := a.targets.TargetsFor(ctx, snap.ID)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"device_id": snap.ID,
				"error":     err,
			}).Warn("Failed to load probe targets")
			continue
		}

		a.mu.Lock()
		for _, m := range Measurements() {
			th := a.ensure(snap.ID, m)
			current := reading(snap, m)
			if !ok || current == nil {
				continue
			}
			if alert, fired := a.evaluate(th, *current, targets.For(m)); fired {
				alert.Name = snap.Name()
				raised = append(raised, alert)
			}
		}
		a.mu.Unlock()
	}

	for _, alert := range raised {
		a.logger.WithFields(logrus.Fields{
			"device_id":   alert.Device,
			"measurement": alert.Measurement,
			"value":       alert.Value,
			"target":      alert.Target,
		}).Info(alert.Title())
		if a.alerts.Send(alert) {
			a.logger.WithField("device_id", alert.Device).Debug("Alert stream full, dropped oldest alert")
		}
	}
	return raised
}

// ensure must be called with a.mu held
func (a *Alerter) ensure(id device.ID, m Measurement) *thermometer {
	key := ThermometerID(id, m)
	th, ok := a.thermometers[key]
	if !ok {
		th = &thermometer{id: key, device: id, measurement: m}
		a.thermometers[key] = th
	}
	return th
}

// evaluate applies the re-arm rule, then the trigger rule
func (a *Alerter) evaluate(th *thermometer, current, target float64) (Alert, bool) {
	if th.triggered && (th.target != target || th.value-current > a.opts.Margin) {
		th.triggered = false
		a.logger.WithFields(logrus.Fields{
			"device_id":   th.device,
			"measurement": th.measurement,
			"value":       current,
			"target":      target,
		}).Debug("Thermometer re-armed")
	}

	if th.triggered || current < target {
		return Alert{}, false
	}
	th.triggered = true
	th.value = current
	th.target = target

	return Alert{
		ID:          uuid.New(),
		Device:      th.device,
		Measurement: th.measurement,
		Value:       current,
		Target:      target,
		At:          a.now(),
	}, true
}

// Triggered reports whether the thermometer of (id, m) is in the triggered state
func (a *Alerter) Triggered(id device.ID, m Measurement) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	th, ok := a.thermometers[ThermometerID(id, m)]
	return ok && th.triggered
}

func reading(s probe.Snapshot, m Measurement) *float64 {
	if m == MeasurementGrill {
		return s.GrillTemperature
	}
	return s.ProbeTemperature
}
