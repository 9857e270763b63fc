package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/srg/grillprobe/internal/device"
	"github.com/stretchr/testify/suite"
)

type MonitorTestSuite struct {
	CommandTestSuite
}

type commandResult struct {
	out string
	err error
}

func (s *MonitorTestSuite) executeAsync(args ...string) <-chan commandResult {
	done := make(chan commandResult, 1)
	go func() {
		out, err := s.ExecuteCommand(args...)
		done <- commandResult{out: out, err: err}
	}()
	return done
}

func telemetry(probeRaw, grillRaw uint16) []byte {
	return []byte{0, 0, byte(probeRaw), byte(probeRaw >> 8), byte(grillRaw), byte(grillRaw >> 8)}
}

// GOAL: Verify monitor connects, registers the probe, prints readings and
// disconnects when the duration elapses
func (s *MonitorTestSuite) TestMonitor_ConnectsAndPrintsReadings() {
	s.AddProbe(TestDeviceAddress1, "Pitmaster")

	out, err := s.ExecuteCommand("monitor", "--duration", "200ms", "--interval", "20ms")
	s.Require().NoError(err)

	s.Contains(out, "Connected to Pitmaster ("+string(TestDeviceAddress1)+")")
	s.Contains(out, "probe --.-°C / 70°C", "readings MUST show defaults targets before any telemetry")
	s.Contains(out, "Disconnected from Pitmaster")

	out, err = s.ExecuteCommand("probe", "list")
	s.Require().NoError(err)
	s.Contains(out, "Pitmaster", "connected probes MUST be registered")
}

// GOAL: Verify a reading reaching the targets raises one alert per measurement
func (s *MonitorTestSuite) TestMonitor_AlertsWhenTargetReached() {
	s.AddProbe(TestDeviceAddress1, "Pitmaster")

	done := s.executeAsync("monitor", "--duration", "500ms", "--interval", "20ms")

	// Notify succeeds once the temperature subscription is in place
	s.Require().Eventually(func() bool {
		return s.Transport.Notify(TestDeviceAddress1, device.ServiceProbe, device.CharTemperature, telemetry(1100, 2900))
	}, 2*time.Second, 5*time.Millisecond)

	r := <-done
	s.Require().NoError(r.err)
	s.Contains(r.out, "ALERT Target probe temperature reached: Pitmaster is at (70.0°C)")
	s.Contains(r.out, "ALERT Target grill temperature reached: Pitmaster is at (250.0°C)")
	s.Contains(r.out, "probe 70.0°C / 70°C")
	s.Equal(1, strings.Count(r.out, "Target probe temperature reached"), "one alert per crossing")
}

// GOAL: Verify the scan stops as soon as every requested probe was seen
func (s *MonitorTestSuite) TestMonitor_RequestedIDStopsScanEarly() {
	s.AddProbe(TestDeviceAddress1, "Pitmaster")
	s.AddProbe(TestDeviceAddress2, "Brisket")

	start := time.Now()
	out, err := s.ExecuteCommand("monitor", string(TestDeviceAddress2), "--timeout", "5s", "--duration", "100ms")
	s.Require().NoError(err)

	s.Less(time.Since(start), 3*time.Second)
	s.Contains(out, "Connected to Brisket")
	s.NotContains(out, "Connected to Pitmaster")
}

func (s *MonitorTestSuite) TestMonitor_UnknownID() {
	s.AddProbe(TestDeviceAddress1, "Pitmaster")

	out, err := s.ExecuteCommand("monitor", "00:00:00:00:00:09", "--timeout", "30ms")
	s.Require().True(errors.Is(err, ErrNoProbes), "got %v", err)
	s.Contains(out, "Failed to connect to 00:00:00:00:00:09")
}

func (s *MonitorTestSuite) TestMonitor_NoProbes() {
	_, err := s.ExecuteCommand("monitor", "--timeout", "30ms")
	s.ErrorIs(err, ErrNoProbes)
}

func (s *MonitorTestSuite) TestMonitor_InvalidInterval() {
	_, err := s.ExecuteCommand("monitor", "--interval", "0s")
	s.ErrorContains(err, "--interval")
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}
