package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/dragonbane-auth/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisDenylist stores revoked token identifiers as keys whose TTL matches
// the token's remaining lifetime, so Redis drops them on its own.
type RedisDenylist struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisDenylist creates a denylist backed by the given Redis client.
func NewRedisDenylist(client redis.UniversalClient) *RedisDenylist {
	return &RedisDenylist{
		redis:  client,
		prefix: "denylist:",
		now:    time.Now,
	}
}

func (d *RedisDenylist) Add(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(d.now())
	if ttl <= 0 {
		return nil
	}

	// SET NX keeps the first revocation; a token's expiry never changes.
	if err := d.redis.SetNX(ctx, d.prefix+tokenID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrDenylistUnavailable, err)
	}
	return nil
}

func (d *RedisDenylist) Contains(ctx context.Context, tokenID string) (bool, error) {
	n, err := d.redis.Exists(ctx, d.prefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", models.ErrDenylistUnavailable, err)
	}
	return n > 0, nil
}
