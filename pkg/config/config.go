package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	defaults "github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "GRILLPROBE_"

// Config holds application configuration
type Config struct {
	// LogLevel is empty for silent operation
	LogLevel       string        `yaml:"log_level"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	DatabasePath   string        `yaml:"database_path" default:"grillprobe.db"`

	Alert     AlertConfig     `yaml:"alert"`
	History   HistoryConfig   `yaml:"history"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
}

type AlertConfig struct {
	Interval time.Duration `yaml:"interval" default:"1s"`
	Margin   float64       `yaml:"margin" default:"2"`
}

type HistoryConfig struct {
	Interval      time.Duration `yaml:"interval" default:"5s"`
	Capacity      uint32        `yaml:"capacity" default:"1024"`
	FlushInterval time.Duration `yaml:"flush_interval" default:"30s"`
}

type ReconnectConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Delay       time.Duration `yaml:"delay" default:"5s"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker" default:"tcp://localhost:1883"`
	ClientID    string `yaml:"client_id" default:"grillprobe"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix" default:"grillprobe"`
	QoS         int    `yaml:"qos"`
}

type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url" default:"http://localhost:8086"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org" default:"grillprobe"`
	Bucket        string        `yaml:"bucket" default:"grillprobe"`
	BatchSize     uint          `yaml:"batch_size" default:"100"`
	FlushInterval time.Duration `yaml:"flush_interval" default:"10s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load builds the configuration: defaults, then the optional .env file, then
// the YAML file at path, then GRILLPROBE_* environment overrides.
//
// An empty path skips the YAML file. The .env file is looked up next to the
// YAML file, or in the working directory when path is empty; a missing .env
// is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	envFile := ".env"
	if path != "" {
		envFile = filepath.Join(filepath.Dir(path), ".env")
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type envBinding struct {
	name string
	set  func(string) error
}

func (c *Config) envBindings() []envBinding {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	dur := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*dst = d
			return nil
		}
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*dst = b
			return nil
		}
	}

	return []envBinding{
		{"LOG_LEVEL", str(&c.LogLevel)},
		{"SCAN_TIMEOUT", dur(&c.ScanTimeout)},
		{"CONNECT_TIMEOUT", dur(&c.ConnectTimeout)},
		{"DATABASE_PATH", str(&c.DatabasePath)},
		{"RECONNECT_ENABLED", boolean(&c.Reconnect.Enabled)},
		{"MQTT_ENABLED", boolean(&c.MQTT.Enabled)},
		{"MQTT_BROKER", str(&c.MQTT.Broker)},
		{"MQTT_CLIENT_ID", str(&c.MQTT.ClientID)},
		{"MQTT_USERNAME", str(&c.MQTT.Username)},
		{"MQTT_PASSWORD", str(&c.MQTT.Password)},
		{"MQTT_TOPIC_PREFIX", str(&c.MQTT.TopicPrefix)},
		{"INFLUXDB_ENABLED", boolean(&c.InfluxDB.Enabled)},
		{"INFLUXDB_URL", str(&c.InfluxDB.URL)},
		{"INFLUXDB_TOKEN", str(&c.InfluxDB.Token)},
		{"INFLUXDB_ORG", str(&c.InfluxDB.Org)},
		{"INFLUXDB_BUCKET", str(&c.InfluxDB.Bucket)},
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, b := range c.envBindings() {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, b.name, err)
		}
	}
	return nil
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	positive := map[string]time.Duration{
		"scan_timeout":           c.ScanTimeout,
		"connect_timeout":        c.ConnectTimeout,
		"alert.interval":         c.Alert.Interval,
		"history.interval":       c.History.Interval,
		"history.flush_interval": c.History.FlushInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}
	if c.Alert.Margin < 0 {
		errs = append(errs, fmt.Errorf("alert.margin must not be negative, got %v", c.Alert.Margin))
	}
	if c.History.Capacity == 0 {
		errs = append(errs, errors.New("history.capacity must be positive"))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
		}
	}
	if c.InfluxDB.Enabled {
		for name, v := range map[string]string{
			"influxdb.url":    c.InfluxDB.URL,
			"influxdb.token":  c.InfluxDB.Token,
			"influxdb.org":    c.InfluxDB.Org,
			"influxdb.bucket": c.InfluxDB.Bucket,
		} {
			if v == "" {
				errs = append(errs, fmt.Errorf("%s is required when influxdb is enabled", name))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Level returns the configured log level; empty means silent
func (c *Config) Level() (logrus.Level, error) {
	switch c.LogLevel {
	case "":
		return logrus.PanicLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.PanicLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
