package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds the latency floor applied to authentication responses
type TimingConfig struct {
	Floor          time.Duration // Minimum total duration of a padded response
	Jitter         time.Duration // Random extra delay in [0, Jitter)
	DelayOnSuccess bool          // Pad successful logins as well
}

// TimingDelay pads responses so that every failure path takes about the
// same wall-clock time regardless of which check rejected the request.
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
	}
}

// cryptoRandDuration returns a uniformly distributed duration in [0, max).
// Uses crypto/rand so the jitter cannot be predicted and subtracted.
func cryptoRandDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(b[:]) % uint64(max))
}

// Target returns the padded duration for one response.
func (td *TimingDelay) Target() time.Duration {
	return td.config.Floor + cryptoRandDuration(td.config.Jitter)
}

// WaitFrom sleeps until at least Target() has elapsed since start.
// Returns early if ctx is cancelled.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	if td == nil || (success && !td.config.DelayOnSuccess) {
		return
	}

	remaining := td.Target() - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Calibrate runs work samples times and raises the floor to the slowest run
// plus headroom when the configured floor is lower. It returns the resulting
// floor and must be called before the delay is shared between goroutines.
func (td *TimingDelay) Calibrate(work func(), samples int, headroom time.Duration) time.Duration {
	if samples < 1 {
		samples = 1
	}

	var slowest time.Duration
	for i := 0; i < samples; i++ {
		start := time.Now()
		work()
		if d := time.Since(start); d > slowest {
			slowest = d
		}
	}

	if need := slowest + headroom; need > td.config.Floor {
		td.config.Floor = need
	}
	return td.config.Floor
}

// Floor returns the current latency floor.
func (td *TimingDelay) Floor() time.Duration {
	return td.config.Floor
}
