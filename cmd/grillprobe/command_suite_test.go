package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/grillprobe/internal/device"
	"github.com/srg/grillprobe/internal/devicefactory"
	"github.com/srg/grillprobe/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent fake probe identification
const (
	TestDeviceAddress1 device.ID = "00:00:00:00:00:01"
	TestDeviceAddress2 device.ID = "00:00:00:00:00:02"
)

// CommandTestSuite runs commands against an in-memory transport and a
// temporary settings database. All cmd/grillprobe suites embed it.
type CommandTestSuite struct {
	suite.Suite

	Transport  *testutils.FakeTransport
	ConfigPath string
	DBPath     string

	originalFactory func(*logrus.Logger) (devicefactory.Transport, error)
}

func (s *CommandTestSuite) SetupTest() {
	dir := s.T().TempDir()
	s.DBPath = filepath.Join(dir, "probes.db")
	s.ConfigPath = filepath.Join(dir, "grillprobe.yaml")
	config := fmt.Sprintf(`
database_path: %s
scan_timeout: 50ms
connect_timeout: 2s
alert:
  interval: 10ms
history:
  interval: 10ms
  flush_interval: 50ms
`, s.DBPath)
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte(config), 0o600))

	s.Transport = testutils.NewFakeTransport()
	s.originalFactory = devicefactory.TransportFactory
	devicefactory.TransportFactory = func(*logrus.Logger) (devicefactory.Transport, error) {
		return s.Transport, nil
	}

	resetFlags(rootCmd)
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.TransportFactory = s.originalFactory
}

// AddProbe registers a standard probe with the fake transport
func (s *CommandTestSuite) AddProbe(id device.ID, name string) {
	s.Transport.AddProfile(testutils.NewProbeProfileBuilder().WithID(id).Standard(name).Build())
}

// ExecuteCommand runs the root command with the suite config and args,
// returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append([]string{"--config", s.ConfigPath}, args...))
	err := rootCmd.Execute()
	resetFlags(rootCmd)
	return buf.String(), err
}

// resetFlags restores every flag to its default, cobra keeps parsed values
// between executions
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
