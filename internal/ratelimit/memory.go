package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/dragonbane-auth/internal/models"
)

// sweepEvery bounds how many calls pass between scans for idle keys.
const sweepEvery = 1024

// MemoryLimiter keeps attempt windows in process memory. Suitable for a
// single instance; use the Redis or Postgres backend when running several.
type MemoryLimiter struct {
	mu      sync.Mutex
	config  Config
	records map[string]*models.AttemptRecord
	calls   int
	now     func() time.Time
}

// NewMemoryLimiter creates an in-memory sliding-window limiter.
func NewMemoryLimiter(cfg Config) (*MemoryLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MemoryLimiter{
		config:  cfg,
		records: make(map[string]*models.AttemptRecord),
		now:     time.Now,
	}, nil
}

func (l *MemoryLimiter) CheckAndRecordAttempt(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeSweep(now)

	record := l.record(key, now)
	if len(record.Attempts) >= l.config.MaxAttempts {
		return Decision{
			Allowed:    false,
			RetryAfter: retryAfter(record.Attempts[0], l.config.Window, now),
		}, nil
	}

	record.Attempts = append(record.Attempts, now)
	return Decision{
		Allowed:   true,
		Remaining: l.config.MaxAttempts - len(record.Attempts),
	}, nil
}

func (l *MemoryLimiter) RecordFailure(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	record := l.record(key, now)
	record.Attempts = append(record.Attempts, now)
	return nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.records, key)
	return nil
}

// Len returns the number of keys currently tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// record returns the pruned window for key, creating it if needed. Caller holds mu.
func (l *MemoryLimiter) record(key string, now time.Time) *models.AttemptRecord {
	record, ok := l.records[key]
	if !ok {
		record = &models.AttemptRecord{Key: key}
		l.records[key] = record
		return record
	}
	record.Prune(now.Add(-l.config.Window))
	return record
}

// maybeSweep drops keys whose windows have emptied. Caller holds mu.
func (l *MemoryLimiter) maybeSweep(now time.Time) {
	l.calls++
	if l.calls < sweepEvery {
		return
	}
	l.calls = 0

	cutoff := now.Add(-l.config.Window)
	for key, record := range l.records {
		record.Prune(cutoff)
		if record.Empty() {
			delete(l.records, key)
		}
	}
}
