package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/grillprobe/pkg/config"
)

// loadConfig reads the file named by --config, or defaults plus environment
// overrides when the flag is empty.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// configureLogger creates a logger with the appropriate log level.
// --log-level takes precedence over --verbose, which takes precedence over
// the configured level. Returns an error if the log-level is invalid.
func configureLogger(cmd *cobra.Command, verboseFlagName string, cfg *config.Config) (*logrus.Logger, error) {
	// Default to panic level (essentially silent for normal operations)
	logLevel := logrus.PanicLevel

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	verbose, _ := cmd.Flags().GetBool(verboseFlagName)
	switch {
	case logLevelStr != "":
		level, err := (&config.Config{LogLevel: logLevelStr}).Level()
		if err != nil {
			return nil, err
		}
		logLevel = level
	case verbose:
		logLevel = logrus.DebugLevel
	case cfg != nil:
		level, err := cfg.Level()
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		logLevel = level
	}

	logger := logrus.New()
	logger.SetLevel(logLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
