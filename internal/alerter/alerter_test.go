package alerter

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/srg/grillprobe/internal/device"
	"github.com/srg/grillprobe/internal/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeA device.ID = "aa:aa:aa:aa:aa:01"

type staticSessions struct {
	mu       sync.Mutex
	sessions []*probe.Session
}

func (s *staticSessions) Sessions() []*probe.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*probe.Session(nil), s.sessions...)
}

type staticTargets struct {
	mu      sync.Mutex
	targets map[device.ID]Targets
	err     error
}

func (s *staticTargets) TargetsFor(_ context.Context, id device.ID) (Targets, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Targets{}, false, s.err
	}
	t, ok := s.targets[id]
	return t, ok, nil
}

func (s *staticTargets) set(id device.ID, t Targets) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[id] = t
}

// raw converts °C into the probe wire encoding
func raw(celsius float64) uint16 {
	return uint16(math.Round((celsius + 40) * 10))
}

func setReading(t *testing.T, s *probe.Session, probeC, grillC float64) {
	t.Helper()
	p, g := raw(probeC), raw(grillC)
	payload := []byte{0, 0, byte(p), byte(p >> 8), byte(g), byte(g >> 8)}
	require.NoError(t, s.Apply(device.KindTemperature, payload))
}

func newFixture(t *testing.T) (*Alerter, *probe.Session, *staticTargets) {
	t.Helper()
	s := probe.NewSession(probeA)
	s.OnConnected()
	require.NoError(t, s.Apply(device.KindDeviceName, []byte("Brisket")))

	targets := &staticTargets{targets: map[device.ID]Targets{probeA: {Probe: 70, Grill: 250}}}
	a := New(&staticSessions{sessions: []*probe.Session{s}}, targets, Options{}, nil)
	return a, s, targets
}

// GOAL: Verify hysteresis emits exactly one alert per crossing
//
// TEST SCENARIO: target 70, readings 65, 70, 72, 68, 75 → one alert at 70
func TestAlerter_OneAlertPerCrossing(t *testing.T) {
	a, s, _ := newFixture(t)

	var alerts []Alert
	for _, v := range []float64{65, 70, 72, 68, 75} {
		setReading(t, s, v, 100)
		alerts = append(alerts, a.Check(context.Background())...)
	}

	require.Len(t, alerts, 1)
	assert.Equal(t, probeA, alerts[0].Device)
	assert.Equal(t, MeasurementProbe, alerts[0].Measurement)
	assert.InDelta(t, 70.0, alerts[0].Value, 1e-9)
	assert.InDelta(t, 70.0, alerts[0].Target, 1e-9)
	assert.Equal(t, "Brisket", alerts[0].Name)
	assert.True(t, a.Triggered(probeA, MeasurementProbe))
	assert.False(t, a.Triggered(probeA, MeasurementGrill))
}

// GOAL: Verify a reading more than the margin below the triggered value re-arms
//
// TEST SCENARIO: trigger at 70 → 67.9 re-arms → 70 triggers again
func TestAlerter_RearmsBelowMargin(t *testing.T) {
	a, s, _ := newFixture(t)

	setReading(t, s, 70, 100)
	require.Len(t, a.Check(context.Background()), 1)

	setReading(t, s, 67.9, 100)
	assert.Empty(t, a.Check(context.Background()))
	assert.False(t, a.Triggered(probeA, MeasurementProbe))

	setReading(t, s, 70, 100)
	assert.Len(t, a.Check(context.Background()), 1)
}

// GOAL: Verify a changed target that is already exceeded raises a fresh alert
//
// TEST SCENARIO: trigger at 70 → target 74 with reading 75 → alert for 74
func TestAlerter_TargetChangeRearms(t *testing.T) {
	a, s, targets := newFixture(t)

	setReading(t, s, 75, 100)
	require.Len(t, a.Check(context.Background()), 1)

	// a new target re-arms even while the reading stays above it, unlike the
	// margin rule which needs the reading to drop first
	targets.set(probeA, Targets{Probe: 74, Grill: 250})
	alerts := a.Check(context.Background())
	require.Len(t, alerts, 1)
	assert.InDelta(t, 74.0, alerts[0].Target, 1e-9)

	// unchanged target, still above: nothing new
	assert.Empty(t, a.Check(context.Background()))
}

func TestAlerter_GrillMeasurement(t *testing.T) {
	a, s, _ := newFixture(t)

	setReading(t, s, 20, 251)
	alerts := a.Check(context.Background())
	require.Len(t, alerts, 1)
	assert.Equal(t, MeasurementGrill, alerts[0].Measurement)
	assert.Equal(t, "Target grill temperature reached", alerts[0].Title())
	assert.Equal(t, "Brisket is at (251.0°C)", alerts[0].Body())
}

func TestAlerter_SkipsMissingReadingsAndTargets(t *testing.T) {
	a, s, targets := newFixture(t)

	// no readings yet
	assert.Empty(t, a.Check(context.Background()))

	// no targets configured
	targets.mu.Lock()
	delete(targets.targets, probeA)
	targets.mu.Unlock()
	setReading(t, s, 90, 300)
	assert.Empty(t, a.Check(context.Background()))

	// target lookup failure
	targets.mu.Lock()
	targets.err = errors.New("database is locked")
	targets.mu.Unlock()
	assert.Empty(t, a.Check(context.Background()))
}

func TestAlerter_NilSessionIsSkipped(t *testing.T) {
	targets := &staticTargets{targets: map[device.ID]Targets{}}
	a := New(&staticSessions{sessions: []*probe.Session{nil}}, targets, Options{}, nil)
	assert.Empty(t, a.Check(context.Background()))
}

func TestThermometerID_IsStable(t *testing.T) {
	assert.Equal(t, ThermometerID(probeA, MeasurementProbe), ThermometerID(probeA, MeasurementProbe))
	assert.NotEqual(t, ThermometerID(probeA, MeasurementProbe), ThermometerID(probeA, MeasurementGrill))
	assert.NotEqual(t, ThermometerID(probeA, MeasurementProbe), ThermometerID("other", MeasurementProbe))
}

// GOAL: Verify Run delivers alerts on the stream and closes it on shutdown
func TestAlerter_RunDeliversAlerts(t *testing.T) {
	s := probe.NewSession(probeA)
	s.OnConnected()
	setReading(t, s, 71, 100)

	targets := &staticTargets{targets: map[device.ID]Targets{probeA: {Probe: 70, Grill: 250}}}
	a := New(&staticSessions{sessions: []*probe.Session{s}}, targets, Options{Interval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(ctx)
	}()

	select {
	case alert := <-a.Alerts().C():
		assert.Equal(t, probeA, alert.Device)
		assert.Equal(t, string(probeA), alert.Name, "falls back to the device ID")
	case <-time.After(2 * time.Second):
		t.Fatal("no alert delivered")
	}

	cancel()
	<-done
	_, open := <-a.Alerts().C()
	assert.False(t, open)
}
