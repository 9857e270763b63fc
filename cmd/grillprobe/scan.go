package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/grillprobe/internal/devicefactory"
	"github.com/srg/grillprobe/internal/manager"
	"github.com/srg/grillprobe/pkg/config"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for temperature probes",
	Long: `Scan for Bluetooth Low Energy temperature probes in the vicinity.

Only devices advertising the probe service are listed, in the order they
were first seen. Press Ctrl+C to stop early.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var scanTimeout time.Duration

func init() {
	scanCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 0, "Scan duration (default from config, 10s)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	// Arguments are valid, don't show usage on runtime errors
	cmd.SilenceUsage = true

	transport, err := devicefactory.NewTransport(logger)
	if err != nil {
		return err
	}
	defer transport.Close()

	mgr := manager.New(transport, managerOptions(cfg), logger)
	defer mgr.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	timeout := cfg.ScanTimeout
	if scanTimeout > 0 {
		timeout = scanTimeout
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := newPrinter(cmd.OutOrStdout())
	out.printf("Scanning for probes (%s)...\n\n", timeout)

	if err := mgr.Discover(scanCtx); err != nil {
		return err
	}
	// Ctrl+C still shows what was found so far
	out.devices(mgr.Discovered())
	return nil
}

// signalContext is canceled on Ctrl+C or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func managerOptions(cfg *config.Config) manager.Options {
	opts := manager.Options{ConnectTimeout: cfg.ConnectTimeout}
	if cfg.Reconnect.Enabled {
		opts.Reconnect = manager.FixedDelay{Delay: cfg.Reconnect.Delay, MaxAttempts: cfg.Reconnect.MaxAttempts}
	}
	return opts
}
