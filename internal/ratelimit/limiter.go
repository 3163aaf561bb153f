// Package ratelimit implements the sliding-window attempt limiter that gates
// every login. Backends share one contract: checking a key and recording the
// attempt happen as a single atomic step per key.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Default window and budget per key.
const (
	DefaultWindow      = 15 * time.Minute
	DefaultMaxAttempts = 20
)

// Config holds sliding-window parameters.
type Config struct {
	Window      time.Duration
	MaxAttempts int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{Window: DefaultWindow, MaxAttempts: DefaultMaxAttempts}
}

// Validate rejects configurations that would never allow or never expire attempts.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.Window)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("rate limit max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	return nil
}

// Decision is the outcome of a CheckAndRecordAttempt call.
type Decision struct {
	Allowed bool
	// Remaining is the budget left in the window after this call.
	Remaining int
	// RetryAfter is set on denial: the time until the oldest attempt leaves the window.
	RetryAfter time.Duration
}

// Limiter is the contract every backend implements.
type Limiter interface {
	// CheckAndRecordAttempt prunes the key's window and, when under budget,
	// records the attempt. A denied attempt is not recorded.
	CheckAndRecordAttempt(ctx context.Context, key string) (Decision, error)
	// RecordFailure charges one extra attempt to the key without a budget check.
	RecordFailure(ctx context.Context, key string) error
	// Reset clears the key's window.
	Reset(ctx context.Context, key string) error
}

// Key builds the limiter key for an identity and optional source address.
// The email is expected to be normalized already.
func Key(email, sourceAddress string) string {
	sourceAddress = strings.TrimSpace(sourceAddress)
	if sourceAddress == "" {
		return email
	}
	return email + "|" + sourceAddress
}

// Keys returns every key a login is gated on: the identity alone, then the
// identity and source pair when a source address is known. The identity key
// caps guesses against one account however many addresses they come from.
func Keys(email, sourceAddress string) []string {
	pair := Key(email, sourceAddress)
	if pair == email {
		return []string{email}
	}
	return []string{email, pair}
}

func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	d := oldest.Add(window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
