package manager

import (
	"time"

	"github.com/srg/grillprobe/internal/device"
)

// ReconnectPolicy decides whether a device whose session was dropped with an
// error should be connected again, and after which delay. attempt starts at 1
// and grows while consecutive reconnects fail.
type ReconnectPolicy interface {
	Next(id device.ID, attempt int, cause error) (delay time.Duration, retry bool)
}

// NoReconnect never reconnects
type NoReconnect struct{}

func (NoReconnect) Next(device.ID, int, error) (time.Duration, bool) {
	return 0, false
}

// FixedDelay reconnects after a constant delay, up to MaxAttempts consecutive
// attempts (unlimited when zero).
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

func (p FixedDelay) Next(_ device.ID, attempt int, _ error) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return 0, false
	}
	return p.Delay, true
}
