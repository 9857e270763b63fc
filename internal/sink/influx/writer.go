// Package influx writes probe temperature history into InfluxDB v2.
package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	defaults "github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/grillprobe/internal/history"
)

// Measurement is the InfluxDB measurement name of history points
const Measurement = "probe_temperature"

var (
	// ErrDisabled is returned by Connect when InfluxDB output is turned off
	ErrDisabled = errors.New("influxdb: disabled")

	// ErrConnectionFailed is returned when the server cannot be reached
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

// Options configures the writer
type Options struct {
	Enabled       bool
	URL           string        `default:"http://localhost:8086"`
	Token         string
	Org           string        `default:"grillprobe"`
	Bucket        string        `default:"grillprobe"`
	BatchSize     uint          `default:"100"`
	FlushInterval time.Duration `default:"10s"`
	PingTimeout   time.Duration `default:"5s"`
}

// Writer is a history.Sink backed by the non-blocking InfluxDB write API
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *logrus.Logger
}

var _ history.Sink = (*Writer)(nil)

// Connect creates the client and verifies the server with a ping
func Connect(opts Options, logger *logrus.Logger) (*Writer, error) {
	if !opts.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)

	client := influxdb2.NewClientWithOptions(
		opts.URL,
		opts.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(opts.BatchSize).
			SetFlushInterval(uint(opts.FlushInterval.Milliseconds())),
	)

	ctx, cancel := context.WithTimeout(context.Background(), opts.PingTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	w := newWriter(client, client.WriteAPI(opts.Org, opts.Bucket), logger)
	logger.WithFields(logrus.Fields{
		"url":    opts.URL,
		"bucket": opts.Bucket,
	}).Info("Connected to InfluxDB")
	return w, nil
}

func newWriter(client influxdb2.Client, writeAPI api.WriteAPI, logger *logrus.Logger) *Writer {
	w := &Writer{client: client, writeAPI: writeAPI, logger: logger}
	go w.logWriteErrors(writeAPI.Errors())
	return w
}

func (w *Writer) logWriteErrors(errs <-chan error) {
	for err := range errs {
		w.logger.WithField("error", err).Warn("InfluxDB write failed")
	}
}

// Write queues the samples for the next batch. Write failures surface
// asynchronously and are logged.
func (w *Writer) Write(ctx context.Context, samples []history.Sample) error {
	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.writeAPI.WritePoint(Point(s))
	}
	return nil
}

// Close flushes pending points and closes the client
func (w *Writer) Close() error {
	w.writeAPI.Flush()
	if w.client != nil {
		w.client.Close()
	}
	return nil
}

// Point converts a sample into an InfluxDB point
func Point(s history.Sample) *write.Point {
	return write.NewPoint(
		Measurement,
		map[string]string{
			"device":      string(s.Device),
			"measurement": s.Measurement,
		},
		map[string]interface{}{
			"value": s.Value,
		},
		s.At,
	)
}
