package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for the failed-login response floor
type TimingConfig struct {
	MinDuration    time.Duration // Minimum elapsed time for a response
	Jitter         time.Duration // Random extra delay in [0, Jitter)
	DelayOnSuccess bool          // If true, successful logins are padded too
}

// TimingDelay pads authentication responses to a minimum duration so that
// "no such user" and "wrong password" are not separable by latency.
// A zero-value config disables padding.
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
	}
}

// cryptoRandDuration returns a secure random duration in [0, max)
func cryptoRandDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0
	}

	return time.Duration(binary.BigEndian.Uint64(randomBytes) % uint64(max))
}

// WaitFrom blocks until at least MinDuration+jitter has elapsed since start,
// or ctx is done. It returns immediately for successes unless DelayOnSuccess is set.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	if td == nil || (success && !td.config.DelayOnSuccess) {
		return
	}

	target := td.config.MinDuration + cryptoRandDuration(td.config.Jitter)
	remaining := target - time.Since(start)
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
