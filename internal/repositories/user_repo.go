package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/dragonbane-auth/internal/database"
	"github.com/BradenHooton/dragonbane-auth/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository is the Postgres credential store.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

const userColumns = `id, email, password_hash, failed_attempts, locked_until, created_at, updated_at`

// rowScanner interface for scanning user rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow populates a User model from a database row and rejects records
// that could never authenticate.
func scanUserRow(op string, scanner rowScanner) (*models.User, error) {
	var user models.User
	var lockedUntil *time.Time

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FailedAttempts,
		&lockedUntil, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(op, err)
	}

	if user.PasswordHash == "" || user.FailedAttempts < 0 {
		return nil, models.NewStoreError(models.StoreCorruptRecord, op,
			fmt.Errorf("user %s has an unusable credential record", user.ID))
	}
	user.LockedUntil = lockedUntil

	return &user, nil
}

// FindByEmail looks up a user by normalized email. Missing users yield models.ErrNotFound.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	return scanUserRow("find_by_email", r.pool.QueryRow(ctx, query, email))
}

// UpdateAttemptState persists the failed-attempt counter and lockout expiry.
func (r *UserRepository) UpdateAttemptState(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error {
	query := `
		UPDATE users
		SET failed_attempts = $2, locked_until = $3, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, failedAttempts, lockedUntil)
	if err != nil {
		return database.MapPostgresError("update_attempt_state", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// registerFailureQuery bumps the counter in one statement so concurrent
// failures serialize on the row lock. $2 is now, $3 the threshold and $4 the
// lock expiry to set when the threshold is crossed.
const registerFailureQuery = `
	UPDATE users
	SET failed_attempts = CASE
			WHEN locked_until <= $2 THEN 1
			ELSE failed_attempts + 1
		END,
		locked_until = CASE
			WHEN locked_until > $2 THEN locked_until
			WHEN (CASE WHEN locked_until <= $2 THEN 1 ELSE failed_attempts + 1 END) >= $3 THEN $4::timestamptz
			ELSE NULL
		END,
		updated_at = NOW()
	WHERE id = $1
	RETURNING failed_attempts, locked_until, locked_until IS NOT DISTINCT FROM $4::timestamptz
`

// RegisterFailure atomically applies one failed password check and returns
// the resulting state. It follows the same rules as models.User.RegisterFailure.
func (r *UserRepository) RegisterFailure(ctx context.Context, id string, policy models.LockoutPolicy, now time.Time) (models.AttemptState, error) {
	var state models.AttemptState
	var lockedUntil *time.Time

	until := now.Add(policy.Duration)
	err := r.pool.QueryRow(ctx, registerFailureQuery, id, now, policy.Threshold, until).
		Scan(&state.FailedAttempts, &lockedUntil, &state.LockStarted)
	if err != nil {
		return models.AttemptState{}, database.MapPostgresError("register_failure", err)
	}
	state.LockedUntil = lockedUntil

	return state, nil
}

// Create inserts a new user. The email must already be normalized.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, email, password_hash, failed_attempts, locked_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + userColumns

	return scanUserRow("create", r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.FailedAttempts,
		user.LockedUntil, user.CreatedAt, user.UpdatedAt,
	))
}

// HealthCheck verifies the store is reachable.
func (r *UserRepository) HealthCheck(ctx context.Context) error {
	var one int
	if err := r.pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return database.MapPostgresError("health_check", err)
	}
	return nil
}
