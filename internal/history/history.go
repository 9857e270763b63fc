// Package history samples probe temperatures on a fixed interval and keeps a
// bounded per-device series that is periodically flushed into a Sink.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	defaults "github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/grillprobe/internal/device"
	"github.com/srg/grillprobe/internal/probe"
)

// Measurement names used in samples
const (
	MeasurementProbe = "probe"
	MeasurementGrill = "grill"
)

// Sample is one temperature reading
type Sample struct {
	Device      device.ID
	Measurement string
	Value       float64
	At          time.Time
}

// Sink stores flushed samples. Retention is up to the sink.
type Sink interface {
	Write(ctx context.Context, samples []Sample) error
}

// SessionSource provides the live sessions to sample
type SessionSource interface {
	Sessions() []*probe.Session
}

// Options configures a Collector
type Options struct {
	Interval      time.Duration `default:"5s"`
	FlushInterval time.Duration `default:"30s"`
	// Capacity is the number of samples kept per device before the oldest
	// ones are overwritten
	Capacity uint32 `default:"1024"`
}

// Metrics counts collector activity
type Metrics struct {
	Recorded    uint64
	Overwritten uint64
	Flushed     uint64
	Errors      uint64
}

// Collector polls sessions and buffers their samples per device
type Collector struct {
	sessions SessionSource
	sink     Sink
	opts     Options
	logger   *logrus.Logger

	series *hashmap.Map[device.ID, mpmc.RichOverlappedRingBuffer[Sample]]
	now    func() time.Time

	recorded    atomic.Uint64
	overwritten atomic.Uint64
	flushed     atomic.Uint64
	failures    atomic.Uint64
}

// New creates a collector. sink may be nil, in which case samples are only
// buffered and available through Drain.
func New(sessions SessionSource, sink Sink, opts Options, logger *logrus.Logger) *Collector {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)
	return &Collector{
		sessions: sessions,
		sink:     sink,
		opts:     opts,
		logger:   logger,
		series:   hashmap.New[device.ID, mpmc.RichOverlappedRingBuffer[Sample]](),
		now:      time.Now,
	}
}

// Poll records one sample per present measurement of every connected session
func (c *Collector) Poll() {
	at := c.now()
	for _, s := range c.sessions.Sessions() {
		if s == nil {
			continue
		}
		snap := s.Snapshot()
		if snap.State != probe.StateConnected {
			continue
		}
		if snap.ProbeTemperature != nil {
			c.record(Sample{Device: snap.ID, Measurement: MeasurementProbe, Value: *snap.ProbeTemperature, At: at})
		}
		if snap.GrillTemperature != nil {
			c.record(Sample{Device: snap.ID, Measurement: MeasurementGrill, Value: *snap.GrillTemperature, At: at})
		}
	}
}

func (c *Collector) record(sample Sample) {
	buf, err := c.buffer(sample.Device)
	if err == nil {
		var overwrites uint32
		overwrites, err = buf.EnqueueM(sample)
		c.overwritten.Add(uint64(overwrites))
	}
	if err != nil {
		c.failures.Add(1)
		c.logger.WithFields(logrus.Fields{
			"device_id": sample.Device,
			"error":     err,
		}).Warn("Failed to buffer history sample")
		return
	}
	c.recorded.Add(1)
}

// buffer returns the series of id, creating it on first use. Keys inserted by
// GetOrInsert are not always found by a later Get, so Insert is used instead.
func (c *Collector) buffer(id device.ID) (mpmc.RichOverlappedRingBuffer[Sample], error) {
	if buf, ok := c.series.Get(id); ok {
		return buf, nil
	}
	c.series.Insert(id, mpmc.NewOverlappedRingBuffer[Sample](c.opts.Capacity))
	if buf, ok := c.series.Get(id); ok {
		return buf, nil
	}
	return nil, fmt.Errorf("no series for %s", id)
}

// Devices returns the IDs that have a series
func (c *Collector) Devices() []device.ID {
	ids := make([]device.ID, 0, c.series.Len())
	c.series.Range(func(id device.ID, _ mpmc.RichOverlappedRingBuffer[Sample]) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// Drain removes and returns the buffered samples of a device, oldest first
func (c *Collector) Drain(id device.ID) []Sample {
	buf, ok := c.series.Get(id)
	if !ok {
		return nil
	}
	var out []Sample
	for !buf.IsEmpty() {
		s, err := buf.Dequeue()
		if err != nil {
			break
		}
		out = append(out, s)
	}
	return out
}

// Flush drains every series into the sink. Samples of a failed write are
// dropped and the errors are joined.
func (c *Collector) Flush(ctx context.Context) error {
	if c.sink == nil {
		return nil
	}
	var errs []error
	for _, id := range c.Devices() {
		samples := c.Drain(id)
		if len(samples) == 0 {
			continue
		}
		if err := c.sink.Write(ctx, samples); err != nil {
			c.failures.Add(1)
			c.logger.WithFields(logrus.Fields{
				"device_id": id,
				"samples":   len(samples),
				"error":     err,
			}).Warn("Failed to flush history")
			errs = append(errs, fmt.Errorf("flush %s: %w", id, err))
			continue
		}
		c.flushed.Add(uint64(len(samples)))
		c.logger.WithFields(logrus.Fields{
			"device_id": id,
			"samples":   len(samples),
		}).Debug("History flushed")
	}
	return errors.Join(errs...)
}

// Run polls and flushes on their intervals until ctx is done, then flushes
// once more.
func (c *Collector) Run(ctx context.Context) {
	poll := time.NewTicker(c.opts.Interval)
	defer poll.Stop()
	flush := time.NewTicker(c.opts.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = c.Flush(final)
			cancel()
			return
		case <-poll.C:
			c.Poll()
		case <-flush.C:
			_ = c.Flush(ctx)
		}
	}
}

// GetMetrics returns a snapshot of the collector counters
func (c *Collector) GetMetrics() Metrics {
	return Metrics{
		Recorded:    c.recorded.Load(),
		Overwritten: c.overwritten.Load(),
		Flushed:     c.flushed.Load(),
		Errors:      c.failures.Load(),
	}
}
