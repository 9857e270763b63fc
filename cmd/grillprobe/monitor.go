package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/grillprobe/internal/alerter"
	"github.com/srg/grillprobe/internal/device"
	"github.com/srg/grillprobe/internal/devicefactory"
	"github.com/srg/grillprobe/internal/groutine"
	"github.com/srg/grillprobe/internal/history"
	"github.com/srg/grillprobe/internal/manager"
	"github.com/srg/grillprobe/internal/probe"
	"github.com/srg/grillprobe/internal/sink/influx"
	"github.com/srg/grillprobe/internal/sink/mqtt"
	"github.com/srg/grillprobe/internal/store"
	"github.com/srg/grillprobe/pkg/config"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor [ID...]",
	Short: "Connect to probes and monitor their temperatures",
	Long: `Scan for probes, connect to the given IDs (or to every probe found when no
ID is given) and print live probe and grill temperatures.

An alert is printed once a temperature reaches the target configured with
'grillprobe probe set'. Readings and alerts are also published to MQTT and
history is written to InfluxDB when enabled in the configuration.

Press Ctrl+C to disconnect and exit.`,
	Example: `  grillprobe monitor
  grillprobe monitor AA:BB:CC:DD:EE:FF --interval 10s
  grillprobe monitor --config grillprobe.yaml --duration 4h`,
	RunE: runMonitor,
}

var (
	monitorScanTimeout time.Duration
	monitorDuration    time.Duration
	monitorInterval    time.Duration
)

func init() {
	monitorCmd.Flags().DurationVarP(&monitorScanTimeout, "timeout", "t", 0, "Scan duration (default from config, 10s)")
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Stop monitoring after this duration (0 runs until Ctrl+C)")
	monitorCmd.Flags().DurationVarP(&monitorInterval, "interval", "i", 5*time.Second, "Interval between printed readings")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}
	if monitorInterval <= 0 {
		return errors.New("--interval must be positive")
	}

	// Arguments are valid, don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	out := newPrinter(cmd.OutOrStdout())

	st, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	transport, err := devicefactory.NewTransport(logger)
	if err != nil {
		return err
	}
	defer transport.Close()

	mgr := manager.New(transport, managerOptions(cfg), logger)
	defer mgr.Close()

	timeout := cfg.ScanTimeout
	if monitorScanTimeout > 0 {
		timeout = monitorScanTimeout
	}
	out.printf("Scanning for probes (%s)...\n", timeout)
	ids, err := discoverProbes(ctx, mgr, timeout, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	connected := connectProbes(ctx, mgr, st, ids, out)
	if ctx.Err() != nil {
		disconnectAll(mgr, st, out)
		return nil
	}
	if connected == 0 {
		return ErrNoProbes
	}
	defer disconnectAll(mgr, st, out)

	publisher := connectMQTT(cfg, logger, out)
	if publisher != nil {
		defer publisher.Close()
	}

	var sink history.Sink
	if writer := connectInflux(cfg, logger, out); writer != nil {
		defer writer.Close()
		sink = writer
	}

	al := alerter.New(mgr, st, alerter.Options{
		Interval: cfg.Alert.Interval,
		Margin:   cfg.Alert.Margin,
	}, logger)
	collector := history.New(mgr, sink, history.Options{
		Interval:      cfg.History.Interval,
		FlushInterval: cfg.History.FlushInterval,
		Capacity:      cfg.History.Capacity,
	}, logger)

	workers := groutine.NewGroup(ctx)
	workers.Go("probe-alerter", al.Run)
	workers.Go("probe-history", collector.Run)

	out.printf("\nMonitoring %d probe(s), press Ctrl+C to stop\n\n", connected)
	monitorLoop(ctx, mgr, st, al, publisher, out, logger)

	// history performs its final flush before the sinks are closed
	workers.Wait()

	m := collector.GetMetrics()
	logger.WithFields(logrus.Fields{
		"recorded":    m.Recorded,
		"overwritten": m.Overwritten,
		"flushed":     m.Flushed,
		"errors":      m.Errors,
	}).Info("History collector stopped")
	return nil
}

// discoverProbes scans for up to timeout. When wanted IDs are given, the scan
// stops as soon as all of them were seen and the matching IDs are returned in
// the requested order; otherwise every discovered probe is returned.
func discoverProbes(ctx context.Context, mgr *manager.Manager, timeout time.Duration, wanted []string) ([]device.ID, error) {
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	missing := make(map[string]bool, len(wanted))
	for _, id := range wanted {
		missing[strings.ToLower(id)] = true
	}

	done := make(chan error, 1)
	groutine.Go(scanCtx, "probe-scan", func(ctx context.Context) {
		done <- mgr.Discover(ctx)
	})

	var scanErr error
	discoveries := mgr.Discoveries().C()
wait:
	for {
		select {
		case d, ok := <-discoveries:
			if !ok {
				discoveries = nil
				continue
			}
			delete(missing, strings.ToLower(string(d.ID)))
			if len(wanted) > 0 && len(missing) == 0 {
				cancel()
			}
		case scanErr = <-done:
			break wait
		}
	}
	if scanErr != nil {
		return nil, scanErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	discovered := mgr.Discovered()
	byLower := make(map[string]device.ID, len(discovered))
	for _, d := range discovered {
		byLower[strings.ToLower(string(d.ID))] = d.ID
	}

	if len(wanted) == 0 {
		ids := make([]device.ID, 0, len(discovered))
		for _, d := range discovered {
			ids = append(ids, d.ID)
		}
		return ids, nil
	}

	ids := make([]device.ID, 0, len(wanted))
	for _, id := range wanted {
		if found, ok := byLower[strings.ToLower(id)]; ok {
			ids = append(ids, found)
		} else {
			// Connect reports it as not discovered
			ids = append(ids, device.ID(id))
		}
	}
	return ids, nil
}

// connectProbes connects to every id, registering new probes with default
// targets, and returns the number of live sessions
func connectProbes(ctx context.Context, mgr *manager.Manager, st *store.Store, ids []device.ID, out *printer) int {
	names := make(map[device.ID]string)
	for _, d := range mgr.Discovered() {
		names[d.ID] = d.Name
	}

	connected := 0
	for _, id := range ids {
		session, err := mgr.Connect(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return connected
			}
			out.errorf("Failed to connect to %s: %s", id, FormatUserError(err))
			continue
		}

		snap := session.Snapshot()
		name := names[id]
		if snap.DeviceName != nil {
			name = *snap.DeviceName
		}
		registered, err := st.Add(ctx, id, name)
		if err != nil {
			out.errorf("Failed to register %s: %s", id, FormatUserError(err))
		} else if registered.Name != "" {
			name = registered.Name
		}
		if name == "" {
			name = snap.Name()
		}

		out.connected(snap, name)
		connected++
	}
	return connected
}

func disconnectAll(mgr *manager.Manager, st *store.Store, out *printer) {
	for _, s := range mgr.Sessions() {
		id := s.ID()
		_ = mgr.Disconnect(id)
		out.disconnected(id, displayName(context.Background(), st, s.Snapshot()))
	}
}

// monitorLoop prints readings every interval and forwards alerts until ctx
// is done
func monitorLoop(ctx context.Context, mgr *manager.Manager, st *store.Store, al *alerter.Alerter, publisher *mqtt.Publisher, out *printer, logger *logrus.Logger) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	alerts := al.Alerts().C()
	for {
		select {
		case <-ctx.Done():
			return

		case a, ok := <-alerts:
			if !ok {
				alerts = nil
				continue
			}
			if name, ok := st.DisplayName(ctx, a.Device); ok {
				a.Name = name
			}
			out.alertLine(a)
			if publisher != nil {
				if err := publisher.PublishAlert(a); err != nil {
					logger.WithError(err).Warn("Failed to publish alert")
				}
			}

		case <-ticker.C:
			for _, s := range mgr.Sessions() {
				snap := s.Snapshot()
				var targets *alerter.Targets
				if t, ok, err := st.TargetsFor(ctx, snap.ID); err == nil && ok {
					targets = &t
				}
				out.reading(snap, displayName(ctx, st, snap), targets)
				if publisher != nil {
					if err := publisher.PublishReading(snap); err != nil {
						logger.WithError(err).Warn("Failed to publish reading")
					}
				}
			}
		}
	}
}

// displayName prefers the name stored in the settings database
func displayName(ctx context.Context, st *store.Store, snap probe.Snapshot) string {
	if name, ok := st.DisplayName(ctx, snap.ID); ok {
		return name
	}
	return snap.Name()
}

func connectMQTT(cfg *config.Config, logger *logrus.Logger, out *printer) *mqtt.Publisher {
	if !cfg.MQTT.Enabled {
		return nil
	}
	publisher, err := mqtt.Connect(mqtt.Options{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		TopicPrefix:    cfg.MQTT.TopicPrefix,
		QoS:            byte(cfg.MQTT.QoS),
		ConnectTimeout: cfg.ConnectTimeout,
	}, logger)
	if err != nil {
		out.errorf("MQTT disabled: %s", FormatUserError(err))
		return nil
	}
	return publisher
}

func connectInflux(cfg *config.Config, logger *logrus.Logger, out *printer) *influx.Writer {
	if !cfg.InfluxDB.Enabled {
		return nil
	}
	writer, err := influx.Connect(influx.Options{
		Enabled:       true,
		URL:           cfg.InfluxDB.URL,
		Token:         cfg.InfluxDB.Token,
		Org:           cfg.InfluxDB.Org,
		Bucket:        cfg.InfluxDB.Bucket,
		BatchSize:     cfg.InfluxDB.BatchSize,
		FlushInterval: cfg.InfluxDB.FlushInterval,
	}, logger)
	if err != nil {
		out.errorf("InfluxDB history disabled: %s", FormatUserError(err))
		return nil
	}
	return writer
}
