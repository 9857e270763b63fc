package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "grillprobe.db", cfg.DatabasePath)
	assert.Equal(t, time.Second, cfg.Alert.Interval)
	assert.Equal(t, 2.0, cfg.Alert.Margin)
	assert.Equal(t, 5*time.Second, cfg.History.Interval)
	assert.Equal(t, uint32(1024), cfg.History.Capacity)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "grillprobe", cfg.MQTT.TopicPrefix)
	assert.False(t, cfg.InfluxDB.Enabled)
	assert.Equal(t, uint(100), cfg.InfluxDB.BatchSize)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{name: "empty level is silent", logLevel: "", want: logrus.PanicLevel},
		{name: "creates logger with debug level", logLevel: "debug", want: logrus.DebugLevel},
		{name: "creates logger with info level", logLevel: "info", want: logrus.InfoLevel},
		{name: "creates logger with warn level", logLevel: "warn", want: logrus.WarnLevel},
		{name: "creates logger with error level", logLevel: "error", want: logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// GOAL: Verify the layering defaults → .env → YAML → environment
//
// TEST SCENARIO: YAML sets some values, .env and environment override others
func TestLoad_Layering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grillprobe.yaml")
	writeFile(t, path, `
log_level: info
connect_timeout: 45s
alert:
  margin: 3.5
mqtt:
  enabled: true
  broker: tcp://broker:1883
  qos: 1
`)
	writeFile(t, filepath.Join(dir, ".env"), "GRILLPROBE_MQTT_PASSWORD=from-dotenv\n")
	t.Setenv("GRILLPROBE_CONNECT_TIMEOUT", "5s")
	t.Cleanup(func() { os.Unsetenv("GRILLPROBE_MQTT_PASSWORD") })

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout, "environment wins over YAML")
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout, "default kept")
	assert.Equal(t, 3.5, cfg.Alert.Margin)
	assert.Equal(t, time.Second, cfg.Alert.Interval, "nested default kept")
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, 1, cfg.MQTT.QoS)
	assert.Equal(t, "from-dotenv", cfg.MQTT.Password)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		writeFile(t, path, "alert: [unterminated")
		_, err := Load(path)
		assert.ErrorContains(t, err, "parsing config file")
	})

	t.Run("invalid environment override", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("GRILLPROBE_SCAN_TIMEOUT", "soon")
		_, err := Load("")
		assert.ErrorContains(t, err, "GRILLPROBE_SCAN_TIMEOUT")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "invalid log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "invalid log level"},
		{name: "zero connect timeout", mutate: func(c *Config) { c.ConnectTimeout = 0 }, wantErr: "connect_timeout"},
		{name: "negative margin", mutate: func(c *Config) { c.Alert.Margin = -1 }, wantErr: "alert.margin"},
		{name: "zero capacity", mutate: func(c *Config) { c.History.Capacity = 0 }, wantErr: "history.capacity"},
		{name: "mqtt qos", mutate: func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "influxdb token", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: "influxdb.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
