package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/BradenHooton/dragonbane-auth/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// checkAndRecordScript prunes the window, checks the budget and records the
// attempt in one round trip. Returns {allowed, count, oldestMillis}.
// ARGV: now, cutoff, window (all milliseconds), max, member.
const checkAndRecordScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[4]) then
  local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
  return {0, count, tonumber(oldest[2])}
end
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[5])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return {1, count + 1, 0}
`

// ARGV: now, cutoff, window (all milliseconds), member.
const recordScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`

var (
	checkAndRecordLua = redis.NewScript(checkAndRecordScript)
	recordLua         = redis.NewScript(recordScript)
)

// RedisLimiter stores each key's window as a sorted set of attempt times.
type RedisLimiter struct {
	redis  redis.UniversalClient
	config Config
	prefix string
	now    func() time.Time
}

// NewRedisLimiter creates a limiter backed by the given Redis client.
func NewRedisLimiter(client redis.UniversalClient, cfg Config) (*RedisLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RedisLimiter{
		redis:  client,
		config: cfg,
		prefix: "rl:login:",
		now:    time.Now,
	}, nil
}

func (l *RedisLimiter) CheckAndRecordAttempt(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	res, err := checkAndRecordLua.Run(ctx, l.redis, []string{l.prefix + key},
		l.scoreArgs(now, l.config.MaxAttempts, member(now))...,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", models.ErrLimiterUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply of %d elements", models.ErrLimiterUnavailable, len(res))
	}

	if res[0] == 0 {
		return Decision{
			Allowed:    false,
			RetryAfter: retryAfter(time.UnixMilli(res[2]), l.config.Window, now),
		}, nil
	}
	return Decision{
		Allowed:   true,
		Remaining: l.config.MaxAttempts - int(res[1]),
	}, nil
}

func (l *RedisLimiter) RecordFailure(ctx context.Context, key string) error {
	now := l.now()
	err := recordLua.Run(ctx, l.redis, []string{l.prefix + key},
		l.scoreArgs(now, member(now))...,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrLimiterUnavailable, err)
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrLimiterUnavailable, err)
	}
	return nil
}

// scoreArgs prefixes extra script arguments with now, cutoff and window in
// milliseconds. Scores are formatted in Go so Lua never renders them in
// exponent notation.
func (l *RedisLimiter) scoreArgs(now time.Time, extra ...interface{}) []interface{} {
	window := l.config.Window.Milliseconds()
	nowMs := now.UnixMilli()
	args := []interface{}{
		strconv.FormatInt(nowMs, 10),
		strconv.FormatInt(nowMs-window, 10),
		strconv.FormatInt(window, 10),
	}
	return append(args, extra...)
}

// member makes sorted-set members unique when two attempts share a millisecond.
func member(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()
}
