package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/dragonbane-auth/internal/database"
	"github.com/BradenHooton/dragonbane-auth/internal/models"
	"github.com/BradenHooton/dragonbane-auth/internal/ratelimit"
	"github.com/jackc/pgx/v5"
)

// LoginAttemptRepository is the Postgres sliding-window limiter. Each key is
// serialized with a transaction-scoped advisory lock so concurrent instances
// cannot both take the last slot.
type LoginAttemptRepository struct {
	db     *database.DB
	config ratelimit.Config
	now    func() time.Time
}

// NewLoginAttemptRepository creates a Postgres-backed limiter.
func NewLoginAttemptRepository(db *database.DB, cfg ratelimit.Config) (*LoginAttemptRepository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LoginAttemptRepository{db: db, config: cfg, now: time.Now}, nil
}

func (r *LoginAttemptRepository) CheckAndRecordAttempt(ctx context.Context, key string) (ratelimit.Decision, error) {
	var decision ratelimit.Decision
	now := r.now()

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := lockKey(ctx, tx, key); err != nil {
			return err
		}
		if err := pruneKey(ctx, tx, key, now.Add(-r.config.Window)); err != nil {
			return err
		}

		var count int
		var oldest *time.Time
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*), MIN(attempted_at) FROM login_attempts WHERE limiter_key = $1`, key,
		).Scan(&count, &oldest)
		if err != nil {
			return err
		}

		if count >= r.config.MaxAttempts {
			decision = ratelimit.Decision{Allowed: false}
			if oldest != nil {
				decision.RetryAfter = max(oldest.Add(r.config.Window).Sub(now), 0)
			}
			return nil
		}

		if err := insertAttempt(ctx, tx, key, now); err != nil {
			return err
		}
		decision = ratelimit.Decision{Allowed: true, Remaining: r.config.MaxAttempts - count - 1}
		return nil
	})
	if err != nil {
		return ratelimit.Decision{}, limiterFault("check_and_record_attempt", err)
	}

	return decision, nil
}

func (r *LoginAttemptRepository) RecordFailure(ctx context.Context, key string) error {
	now := r.now()

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := lockKey(ctx, tx, key); err != nil {
			return err
		}
		if err := pruneKey(ctx, tx, key, now.Add(-r.config.Window)); err != nil {
			return err
		}
		return insertAttempt(ctx, tx, key, now)
	})
	if err != nil {
		return limiterFault("record_failure", err)
	}
	return nil
}

func (r *LoginAttemptRepository) Reset(ctx context.Context, key string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM login_attempts WHERE limiter_key = $1`, key); err != nil {
		return limiterFault("reset", err)
	}
	return nil
}

func lockKey(ctx context.Context, tx pgx.Tx, key string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return err
}

func pruneKey(ctx context.Context, tx pgx.Tx, key string, cutoff time.Time) error {
	_, err := tx.Exec(ctx, `DELETE FROM login_attempts WHERE limiter_key = $1 AND attempted_at <= $2`, key, cutoff)
	return err
}

func insertAttempt(ctx context.Context, tx pgx.Tx, key string, at time.Time) error {
	_, err := tx.Exec(ctx, `INSERT INTO login_attempts (limiter_key, attempted_at) VALUES ($1, $2)`, key, at)
	return err
}

func limiterFault(op string, err error) error {
	return fmt.Errorf("%w: %v", models.ErrLimiterUnavailable, database.MapPostgresError(op, err))
}
