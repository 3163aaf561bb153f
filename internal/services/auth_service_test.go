package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/dragonbane-auth/internal/auth"
	"github.com/BradenHooton/dragonbane-auth/internal/models"
	"github.com/BradenHooton/dragonbane-auth/internal/ratelimit"
	pkgauth "github.com/BradenHooton/dragonbane-auth/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireAuthError(t *testing.T, err error, want *models.AuthError) {
	t.Helper()
	var authErr *models.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, want.Kind, authErr.Kind, "got %s", authErr.Code())
}

func TestNewAuthService_RejectsInvalidConfig(t *testing.T) {
	hasher := newTestHasher(t)

	_, err := NewAuthService(NewMockCredentialStore(), &MockLimiter{}, &MockSessionIssuer{}, hasher,
		AuthServiceConfig{LockoutThreshold: 0, StoreTimeout: time.Second}, discardLogger())
	assert.Error(t, err)

	_, err = NewAuthService(NewMockCredentialStore(), &MockLimiter{}, &MockSessionIssuer{}, hasher,
		AuthServiceConfig{LockoutThreshold: 5, StoreTimeout: 0}, discardLogger())
	assert.Error(t, err)
}

func TestAuthenticate_Success(t *testing.T) {
	env := newTestEnv(t, nil, DefaultAuthServiceConfig())

	token, err := env.service.Login(context.Background(), "  User@Example.COM ", testPassword, "203.0.113.5")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "user-1", token.UserID)

	userID, err := env.sessions.Verify(context.Background(), token.Value)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestAuthenticate_MalformedRequestsNeverReachStore(t *testing.T) {
	limiter := &MockLimiter{Decision: ratelimit.Decision{Allowed: true}}
	env := newTestEnv(t, limiter, DefaultAuthServiceConfig())

	cases := []struct{ email, password, source string }{
		{"", testPassword, ""},
		{"   ", testPassword, ""},
		{"not-an-email", testPassword, ""},
		{"user@", testPassword, ""},
		{"@example.com", testPassword, ""},
		{"user@example.com", "", ""},
		{"user@example.com", testPassword, "not-an-ip"},
	}

	for _, c := range cases {
		_, err := env.service.Login(context.Background(), c.email, c.password, c.source)
		requireAuthError(t, err, models.ErrInvalidCredentials)
	}

	find, update := env.store.Calls()
	assert.Zero(t, find)
	assert.Zero(t, update)
	assert.Zero(t, limiter.CheckCalls)
}

func TestAuthenticate_UnknownEmailIsInvalidCredentials(t *testing.T) {
	env := newTestEnv(t, nil, DefaultAuthServiceConfig())

	_, err := env.service.Login(context.Background(), "nobody@example.com", testPassword, "")

	requireAuthError(t, err, models.ErrInvalidCredentials)
	_, update := env.store.Calls()
	assert.Zero(t, update)
}

func TestAuthenticate_WrongPasswordIncrementsCounter(t *testing.T) {
	env := newTestEnv(t, nil, DefaultAuthServiceConfig())

	_, err := env.service.Login(context.Background(), testEmail, "wrong", "")
	requireAuthError(t, err, models.ErrInvalidCredentials)

	user := env.store.User(testEmail)
	assert.Equal(t, 1, user.FailedAttempts)
	assert.Nil(t, user.LockedUntil)
}

func TestAuthenticate_LockoutScenario(t *testing.T) {
	notifier := &MockLockoutNotifier{Sent: make(chan string, 1)}
	env := newTestEnv(t, nil, DefaultAuthServiceConfig(), WithLockoutNotifier(notifier))
	ctx := context.Background()

	token, err := env.service.Login(ctx, testEmail, testPassword, "")
	require.NoError(t, err)
	require.NotNil(t, token)

	for i := 0; i < 5; i++ {
		_, err := env.service.Login(ctx, testEmail, "wrong password", "")
		requireAuthError(t, err, models.ErrInvalidCredentials)
	}

	_, err = env.service.Login(ctx, testEmail, testPassword, "")
	requireAuthError(t, err, models.ErrAccountLocked)

	user := env.store.User(testEmail)
	assert.Equal(t, 5, user.FailedAttempts)
	require.NotNil(t, user.LockedUntil)

	select {
	case email := <-notifier.Sent:
		assert.Equal(t, testEmail, email)
	case <-time.After(time.Second):
		t.Fatal("lockout notification was not sent")
	}
}

func TestAuthenticate_LockExpiryRestoresAccess(t *testing.T) {
	env := newTestEnv(t, nil, DefaultAuthServiceConfig())
	ctx := context.Background()

	now := time.Now()
	env.service.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		_, _ = env.service.Login(ctx, testEmail, "wrong password", "")
	}
	_, err := env.service.Login(ctx, testEmail, testPassword, "")
	requireAuthError(t, err, models.ErrAccountLocked)

	now = now.Add(15*time.Minute + time.Second)

	token, err := env.service.Login(ctx, testEmail, testPassword, "")
	require.NoError(t, err)
	assert.NotNil(t, token)

	user := env.store.User(testEmail)
	assert.Zero(t, user.FailedAttempts)
	assert.Nil(t, user.LockedUntil)
}

func TestAuthenticate_CounterRestartsAfterExpiredLock(t *testing.T) {
	env := newTestEnv(t, nil, DefaultAuthServiceConfig())
	ctx := context.Background()

	now := time.Now()
	env.service.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		_, _ = env.service.Login(ctx, testEmail, "wrong password", "")
	}
	now = now.Add(16 * time.Minute)

	_, err := env.service.Login(ctx, testEmail, "wrong again", "")
	requireAuthError(t, err, models.ErrInvalidCredentials)

	user := env.store.User(testEmail)
	assert.Equal(t, 1, user.FailedAttempts)
	assert.Nil(t, user.LockedUntil)
}

func TestAuthenticate_RateLimitedBeforeStoreLookup(t *testing.T) {
	limiter := &MockLimiter{Decision: ratelimit.Decision{Allowed: false, RetryAfter: time.Minute}}
	env := newTestEnv(t, limiter, DefaultAuthServiceConfig())

	_, err := env.service.Login(context.Background(), testEmail, testPassword, "")

	requireAuthError(t, err, models.ErrTooManyAttempts)
	var authErr *models.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, time.Minute, authErr.RetryAfter)
	find, _ := env.store.Calls()
	assert.Zero(t, find)
}

func TestAuthenticate_FailuresExhaustLimiterBudget(t *testing.T) {
	cfg := DefaultAuthServiceConfig()
	cfg.LockoutThreshold = 100
	env := newTestEnv(t, newTestLimiter(t, 4), cfg)
	ctx := context.Background()

	// Each failure charges the gate check plus one extra attempt.
	for i := 0; i < 2; i++ {
		_, err := env.service.Login(ctx, "ghost@example.com", "pw", "198.51.100.1")
		requireAuthError(t, err, models.ErrInvalidCredentials)
	}

	_, err := env.service.Login(ctx, "ghost@example.com", "pw", "198.51.100.1")
	requireAuthError(t, err, models.ErrTooManyAttempts)

	// The identity window is shared by every source address.
	_, err = env.service.Login(ctx, "ghost@example.com", "pw", "198.51.100.2")
	requireAuthError(t, err, models.ErrTooManyAttempts)

	_, err = env.service.Login(ctx, "other@example.com", "pw", "198.51.100.1")
	requireAuthError(t, err, models.ErrInvalidCredentials)
}

func TestAuthenticate_RotatingSourcesCannotOutrunLockout(t *testing.T) {
	cfg := DefaultAuthServiceConfig()
	env := newTestEnv(t, newTestLimiter(t, ratelimit.DefaultMaxAttempts), cfg)
	ctx := context.Background()

	const guesses = 40
	var mu sync.Mutex
	kinds := map[models.AuthErrorKind]int{}
	var wg sync.WaitGroup
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			source := fmt.Sprintf("198.51.100.%d", i+1)
			_, err := env.service.Login(ctx, testEmail, fmt.Sprintf("guess-%d", i), source)
			var authErr *models.AuthError
			if errors.As(err, &authErr) {
				mu.Lock()
				kinds[authErr.Kind]++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, guesses, kinds[models.AuthInvalidCredentials]+kinds[models.AuthTooManyAttempts]+kinds[models.AuthAccountLocked])
	assert.Positive(t, kinds[models.AuthTooManyAttempts], "identity window caps guesses across sources")
	assert.LessOrEqual(t, kinds[models.AuthInvalidCredentials], ratelimit.DefaultMaxAttempts)
	assert.GreaterOrEqual(t, kinds[models.AuthInvalidCredentials], cfg.LockoutThreshold)

	user := env.store.User(testEmail)
	assert.Equal(t, kinds[models.AuthInvalidCredentials], user.FailedAttempts, "every evaluated guess is counted")
	assert.True(t, user.IsLocked(time.Now()))

	_, err := env.service.Login(ctx, testEmail, testPassword, "203.0.113.9")
	var authErr *models.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, []models.AuthErrorKind{models.AuthAccountLocked, models.AuthTooManyAttempts}, authErr.Kind)
}

func TestAuthenticate_ConcurrentFailuresStartOneLockout(t *testing.T) {
	notifier := &MockLockoutNotifier{Sent: make(chan string, 16)}
	cfg := DefaultAuthServiceConfig()
	env := newTestEnv(t, newTestLimiter(t, 1000), cfg, WithLockoutNotifier(notifier))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.service.Login(ctx, testEmail, "wrong password", "")
		}()
	}
	wg.Wait()

	user := env.store.User(testEmail)
	assert.GreaterOrEqual(t, user.FailedAttempts, cfg.LockoutThreshold)
	require.NotNil(t, user.LockedUntil)

	select {
	case <-notifier.Sent:
	case <-time.After(time.Second):
		t.Fatal("lockout notification was not sent")
	}
	select {
	case <-notifier.Sent:
		t.Fatal("lockout notified more than once")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAuthenticate_SuccessResetsLimiterWindow(t *testing.T) {
	env := newTestEnv(t, newTestLimiter(t, 3), DefaultAuthServiceConfig())
	ctx := context.Background()

	_, err := env.service.Login(ctx, testEmail, "wrong", "")
	requireAuthError(t, err, models.ErrInvalidCredentials)

	_, err = env.service.Login(ctx, testEmail, testPassword, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = env.service.Login(ctx, testEmail, testPassword, "")
		require.NoError(t, err, "attempt %d", i+1)
	}
}

func TestAuthenticate_LimiterFaultFailsClosed(t *testing.T) {
	limiter := &MockLimiter{CheckErr: fmt.Errorf("%w: dial tcp: connection refused", models.ErrLimiterUnavailable)}
	env := newTestEnv(t, limiter, DefaultAuthServiceConfig())

	_, err := env.service.Login(context.Background(), testEmail, testPassword, "")

	requireAuthError(t, err, models.ErrServiceUnavailable)
	assert.NotContains(t, err.Error(), "refused")
	find, _ := env.store.Calls()
	assert.Zero(t, find)
}

func TestAuthenticate_StoreFaultsAreServiceUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unavailable", models.NewStoreError(models.StoreUnavailable, "find_by_email", errors.New("Database error: connection reset"))},
		{"timeout", models.NewStoreError(models.StoreTimeout, "find_by_email", context.DeadlineExceeded)},
		{"not found inside a fault", models.NewStoreError(models.StoreInternal, "find_by_email", models.ErrNotFound)},
		{"unclassified", errors.New("unexpected_failure")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil, DefaultAuthServiceConfig())
			env.store.FindByEmailFunc = func(context.Context, string) (*models.User, error) {
				return nil, tt.err
			}

			_, err := env.service.Login(context.Background(), testEmail, testPassword, "")

			requireAuthError(t, err, models.ErrServiceUnavailable)
			assert.NotContains(t, err.Error(), "Database")
		})
	}
}

func TestAuthenticate_HangingStoreTimesOut(t *testing.T) {
	cfg := DefaultAuthServiceConfig()
	cfg.StoreTimeout = 50 * time.Millisecond
	env := newTestEnv(t, nil, cfg)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	env.store.FindByEmailFunc = func(context.Context, string) (*models.User, error) {
		<-release // ignores its context
		return nil, models.ErrNotFound
	}

	start := time.Now()
	_, err := env.service.Login(context.Background(), testEmail, testPassword, "")

	requireAuthError(t, err, models.ErrServiceUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAuthenticate_PanickingStoreIsServiceUnavailable(t *testing.T) {
	env := newTestEnv(t, nil, DefaultAuthServiceConfig())
	env.store.FindByEmailFunc = func(context.Context, string) (*models.User, error) {
		panic("driver bug")
	}

	_, err := env.service.Login(context.Background(), testEmail, testPassword, "")

	requireAuthError(t, err, models.ErrServiceUnavailable)
}

func TestAuthenticate_CorruptHashIsServiceUnavailable(t *testing.T) {
	env := newTestEnv(t, nil, DefaultAuthServiceConfig())
	env.store.FindByEmailFunc = func(context.Context, string) (*models.User, error) {
		return &models.User{ID: "user-1", Email: testEmail, PasswordHash: "not-a-bcrypt-hash"}, nil
	}

	_, err := env.service.Login(context.Background(), testEmail, testPassword, "")

	requireAuthError(t, err, models.ErrServiceUnavailable)
}

func TestAuthenticate_AttemptStateWriteFailure(t *testing.T) {
	env := newTestEnv(t, nil, DefaultAuthServiceConfig())
	env.store.RegisterFailureFunc = func(context.Context, string, models.LockoutPolicy, time.Time) (models.AttemptState, error) {
		return models.AttemptState{}, models.NewStoreError(models.StoreUnavailable, "register_failure", errors.New("read-only replica"))
	}

	_, err := env.service.Login(context.Background(), testEmail, "wrong", "")

	requireAuthError(t, err, models.ErrServiceUnavailable)
}

func TestAuthenticate_IssueFailureIsServiceUnavailable(t *testing.T) {
	hasher := newTestHasher(t)
	store := NewMockCredentialStore(newTestUser(t, hasher))
	issuer := &MockSessionIssuer{IssueFunc: func(context.Context, string) (*models.SessionToken, error) {
		return nil, fmt.Errorf("%w: entropy source failed", models.ErrTokenIssue)
	}}
	service, err := NewAuthService(store, newTestLimiter(t, 10), issuer, hasher, DefaultAuthServiceConfig(), discardLogger())
	require.NoError(t, err)

	_, err = service.Login(context.Background(), testEmail, testPassword, "")

	requireAuthError(t, err, models.ErrServiceUnavailable)
}

func TestAuthenticate_FailureTimingIsIndistinguishable(t *testing.T) {
	cfg := DefaultAuthServiceConfig()
	cfg.LockoutThreshold = 1000
	cfg.FailureHeadroom = 0
	timing := auth.NewTimingDelay(auth.TimingConfig{Floor: 40 * time.Millisecond})
	env := newTestEnv(t, newTestLimiter(t, 1000), cfg, WithTimingDelay(timing))
	ctx := context.Background()

	measure := func(email string) time.Duration {
		const runs = 5
		var total time.Duration
		for i := 0; i < runs; i++ {
			start := time.Now()
			_, err := env.service.Login(ctx, email, "wrong password", "")
			total += time.Since(start)
			requireAuthError(t, err, models.ErrInvalidCredentials)
		}
		return total / runs
	}

	missing := measure("nobody@example.com")
	wrong := measure(testEmail)

	assert.GreaterOrEqual(t, missing, 40*time.Millisecond)
	assert.GreaterOrEqual(t, wrong, 40*time.Millisecond)
	assert.InDelta(t, float64(wrong), float64(missing), float64(20*time.Millisecond))
}

func TestAuthenticate_FloorCoversRealisticHashAndSlowWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("uses a production-like bcrypt cost")
	}

	hasher, err := pkgauth.NewBcryptHasher(10)
	require.NoError(t, err)

	cfg := DefaultAuthServiceConfig()
	cfg.LockoutThreshold = 1000
	cfg.FailureHeadroom = 100 * time.Millisecond
	// A configured floor well below one bcrypt compare.
	timing := auth.NewTimingDelay(auth.TimingConfig{Floor: 5 * time.Millisecond})
	env := newTestEnvWithHasher(t, hasher, newTestLimiter(t, 1000), cfg, WithTimingDelay(timing))
	env.store.WriteLatency = 30 * time.Millisecond
	ctx := context.Background()

	require.Greater(t, timing.Floor(), cfg.FailureHeadroom, "floor includes the measured compare")

	measure := func(email string) time.Duration {
		const runs = 5
		var total time.Duration
		for i := 0; i < runs; i++ {
			start := time.Now()
			_, err := env.service.Login(ctx, email, "wrong password", "")
			total += time.Since(start)
			requireAuthError(t, err, models.ErrInvalidCredentials)
		}
		return total / runs
	}

	missing := measure("nobody@example.com")
	wrong := measure(testEmail)

	assert.InDelta(t, float64(wrong), float64(missing), float64(20*time.Millisecond),
		"missing=%s wrong=%s floor=%s", missing, wrong, timing.Floor())
}

func TestAuthenticate_ConcurrentFailuresRespectLimiter(t *testing.T) {
	cfg := DefaultAuthServiceConfig()
	cfg.LockoutThreshold = 1000
	limiter := newTestLimiter(t, 10)
	env := newTestEnv(t, limiter, cfg)

	var mu sync.Mutex
	kinds := map[models.AuthErrorKind]int{}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.service.Login(context.Background(), "ghost@example.com", "pw", "")
			var authErr *models.AuthError
			if errors.As(err, &authErr) {
				mu.Lock()
				kinds[authErr.Kind]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 30, kinds[models.AuthInvalidCredentials]+kinds[models.AuthTooManyAttempts])
	assert.LessOrEqual(t, kinds[models.AuthInvalidCredentials], 10)
	assert.Positive(t, kinds[models.AuthTooManyAttempts])
}

func TestLogout_RevokesSession(t *testing.T) {
	env := newTestEnv(t, nil, DefaultAuthServiceConfig())
	ctx := context.Background()

	token, err := env.service.Login(ctx, testEmail, testPassword, "")
	require.NoError(t, err)

	require.NoError(t, env.service.Logout(ctx, token.UserID, token.Value, ""))

	_, err = env.sessions.Verify(ctx, token.Value)
	assert.ErrorIs(t, err, models.ErrTokenRevoked)
}

func TestAuthenticate_RejectionLogRedactsSourceInProduction(t *testing.T) {
	hasher := newTestHasher(t)
	store := NewMockCredentialStore(newTestUser(t, hasher))
	cfg := DefaultAuthServiceConfig()
	cfg.Env = "production"

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	service, err := NewAuthService(store, newTestLimiter(t, 10), newTestSessions(), hasher, cfg, logger)
	require.NoError(t, err)

	_, err = service.Login(context.Background(), testEmail, "wrong password", "198.51.100.7")
	requireAuthError(t, err, models.ErrInvalidCredentials)

	assert.Contains(t, buf.String(), `"source_address":"[REDACTED]"`)
	assert.NotContains(t, buf.String(), "198.51.100.7")
}
