package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/dragonbane-auth/internal/database"
	"github.com/BradenHooton/dragonbane-auth/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TokenRevocationRepository is the Postgres session denylist. Expired rows are
// removed lazily whenever a new revocation is written.
type TokenRevocationRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewTokenRevocationRepository(db *database.DB) *TokenRevocationRepository {
	return &TokenRevocationRepository{pool: db.Pool, now: time.Now}
}

// Add denylists tokenID until expiresAt.
func (r *TokenRevocationRepository) Add(ctx context.Context, tokenID string, expiresAt time.Time) error {
	now := r.now()
	if !expiresAt.After(now) {
		return nil
	}

	query := `
		WITH pruned AS (
			DELETE FROM revoked_tokens WHERE expires_at <= $3 AND token_id <> $1
		)
		INSERT INTO revoked_tokens (token_id, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (token_id) DO UPDATE
		SET expires_at = GREATEST(revoked_tokens.expires_at, EXCLUDED.expires_at)
	`

	if _, err := r.pool.Exec(ctx, query, tokenID, expiresAt, now); err != nil {
		return fmt.Errorf("%w: %v", models.ErrDenylistUnavailable, database.MapPostgresError("revoke_token", err))
	}
	return nil
}

// Contains reports whether tokenID is denylisted and not yet expired.
func (r *TokenRevocationRepository) Contains(ctx context.Context, tokenID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_id = $1 AND expires_at > $2)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, tokenID, r.now()).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: %v", models.ErrDenylistUnavailable, database.MapPostgresError("is_token_revoked", err))
	}

	return exists, nil
}
