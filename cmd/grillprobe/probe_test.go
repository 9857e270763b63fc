package main

import (
	"testing"

	"github.com/srg/grillprobe/internal/store"
	"github.com/stretchr/testify/suite"
)

type ProbeTestSuite struct {
	CommandTestSuite
}

// GOAL: Verify the settings lifecycle add → set → list → remove
func (s *ProbeTestSuite) TestProbe_Lifecycle() {
	id := string(TestDeviceAddress1)

	out, err := s.ExecuteCommand("probe", "add", id, "--name", "Brisket")
	s.Require().NoError(err)
	s.Contains(out, "Brisket")
	s.Contains(out, "70.0°C", "default probe target MUST be applied")
	s.Contains(out, "250.0°C", "default grill target MUST be applied")

	out, err = s.ExecuteCommand("probe", "set", id, "--probe-target", "93")
	s.Require().NoError(err)
	s.Contains(out, "93.0°C")
	s.Contains(out, "Brisket", "name MUST be kept by a partial update")

	out, err = s.ExecuteCommand("probe", "list")
	s.Require().NoError(err)
	s.Contains(out, id)
	s.Contains(out, "93.0°C")
	s.Contains(out, "250.0°C")

	out, err = s.ExecuteCommand("probe", "remove", id)
	s.Require().NoError(err)
	s.Contains(out, "Removed "+id)

	out, err = s.ExecuteCommand("probe", "list")
	s.Require().NoError(err)
	s.Contains(out, "No probes registered.")
}

func (s *ProbeTestSuite) TestProbe_AddIsIdempotent() {
	id := string(TestDeviceAddress1)

	_, err := s.ExecuteCommand("probe", "add", id)
	s.Require().NoError(err)
	_, err = s.ExecuteCommand("probe", "set", id, "--grill-target", "120")
	s.Require().NoError(err)

	out, err := s.ExecuteCommand("probe", "add", id)
	s.Require().NoError(err)
	s.Contains(out, "120.0°C", "re-adding MUST keep stored targets")
}

func (s *ProbeTestSuite) TestProbe_SetUnknownProbe() {
	_, err := s.ExecuteCommand("probe", "set", "unknown", "--name", "x")
	s.Require().ErrorIs(err, store.ErrNotFound)
	s.Contains(FormatUserError(err), "grillprobe probe add")
}

func (s *ProbeTestSuite) TestProbe_SetValidation() {
	id := string(TestDeviceAddress1)
	_, err := s.ExecuteCommand("probe", "add", id)
	s.Require().NoError(err)

	_, err = s.ExecuteCommand("probe", "set", id, "--probe-target", "301")
	s.ErrorContains(err, "between 0 and 300")

	_, err = s.ExecuteCommand("probe", "set", id)
	s.ErrorContains(err, "nothing to change")
}

func (s *ProbeTestSuite) TestProbe_RemoveUnknownProbe() {
	_, err := s.ExecuteCommand("probe", "remove", "unknown")
	s.ErrorIs(err, store.ErrNotFound)
}

func TestProbeTestSuite(t *testing.T) {
	suite.Run(t, new(ProbeTestSuite))
}
