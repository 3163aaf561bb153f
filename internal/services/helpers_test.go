package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/dragonbane-auth/internal/auth"
	"github.com/BradenHooton/dragonbane-auth/internal/models"
	"github.com/BradenHooton/dragonbane-auth/internal/ratelimit"
	pkgauth "github.com/BradenHooton/dragonbane-auth/pkg/auth"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testEmail    = "user@example.com"
	testPassword = "correct horse battery staple"
)

// MockCredentialStore is an in-memory CredentialStore with optional overrides
type MockCredentialStore struct {
	mu    sync.Mutex
	users map[string]*models.User

	FindByEmailFunc        func(ctx context.Context, email string) (*models.User, error)
	UpdateAttemptStateFunc func(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error
	RegisterFailureFunc    func(ctx context.Context, id string, policy models.LockoutPolicy, now time.Time) (models.AttemptState, error)

	// WriteLatency delays every RegisterFailure.
	WriteLatency time.Duration

	FindCalls     int
	UpdateCalls   int
	RegisterCalls int
}

func NewMockCredentialStore(users ...*models.User) *MockCredentialStore {
	m := &MockCredentialStore{users: make(map[string]*models.User)}
	for _, u := range users {
		m.users[u.Email] = u
	}
	return m
}

func (m *MockCredentialStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	m.FindCalls++
	fn := m.FindByEmailFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, email)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *MockCredentialStore) UpdateAttemptState(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error {
	m.mu.Lock()
	m.UpdateCalls++
	fn := m.UpdateAttemptStateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, id, failedAttempts, lockedUntil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			u.FailedAttempts = failedAttempts
			u.LockedUntil = lockedUntil
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *MockCredentialStore) RegisterFailure(ctx context.Context, id string, policy models.LockoutPolicy, now time.Time) (models.AttemptState, error) {
	m.mu.Lock()
	m.RegisterCalls++
	fn := m.RegisterFailureFunc
	latency := m.WriteLatency
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, id, policy, now)
	}
	if latency > 0 {
		time.Sleep(latency)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u.RegisterFailure(now, policy), nil
		}
	}
	return models.AttemptState{}, models.ErrNotFound
}

func (m *MockCredentialStore) User(email string) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[email]
}

// Calls reports lookups and writes of either kind.
func (m *MockCredentialStore) Calls() (find, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FindCalls, m.UpdateCalls + m.RegisterCalls
}

// MockLimiter implements ratelimit.Limiter with fixed results
type MockLimiter struct {
	mu         sync.Mutex
	Decision   ratelimit.Decision
	CheckErr   error
	CheckCalls int
}

func (m *MockLimiter) CheckAndRecordAttempt(context.Context, string) (ratelimit.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CheckCalls++
	return m.Decision, m.CheckErr
}

func (m *MockLimiter) RecordFailure(context.Context, string) error { return nil }

func (m *MockLimiter) Reset(context.Context, string) error { return nil }

// MockSessionIssuer implements SessionIssuer
type MockSessionIssuer struct {
	IssueFunc  func(ctx context.Context, userID string) (*models.SessionToken, error)
	RevokeFunc func(ctx context.Context, token string) error
}

func (m *MockSessionIssuer) Issue(ctx context.Context, userID string) (*models.SessionToken, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, userID)
	}
	return &models.SessionToken{ID: "jti", Value: "token", UserID: userID}, nil
}

func (m *MockSessionIssuer) Revoke(ctx context.Context, token string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, token)
	}
	return nil
}

// MockLockoutNotifier records notifications on a channel
type MockLockoutNotifier struct {
	Sent chan string
}

func (m *MockLockoutNotifier) NotifyLockout(_ context.Context, email string, _ time.Time) error {
	m.Sent <- email
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHasher(t *testing.T) *pkgauth.BcryptHasher {
	t.Helper()
	hasher, err := pkgauth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	return hasher
}

func newTestUser(t *testing.T, hasher *pkgauth.BcryptHasher) *models.User {
	t.Helper()
	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)
	return &models.User{ID: "user-1", Email: testEmail, PasswordHash: hash}
}

func newTestLimiter(t *testing.T, max int) *ratelimit.MemoryLimiter {
	t.Helper()
	limiter, err := ratelimit.NewMemoryLimiter(ratelimit.Config{Window: 15 * time.Minute, MaxAttempts: max})
	require.NoError(t, err)
	return limiter
}

func newTestSessions() *auth.SessionManager {
	return auth.NewSessionManager(auth.SessionConfig{
		Secret: "0123456789abcdef0123456789abcdef",
		TTL:    time.Hour,
		Issuer: "dragonbane-test",
	}, auth.NewMemoryDenylist())
}

type testEnv struct {
	service  *AuthService
	store    *MockCredentialStore
	sessions *auth.SessionManager
	hasher   *pkgauth.BcryptHasher
}

func newTestEnv(t *testing.T, limiter ratelimit.Limiter, cfg AuthServiceConfig, opts ...AuthServiceOption) *testEnv {
	t.Helper()
	return newTestEnvWithHasher(t, newTestHasher(t), limiter, cfg, opts...)
}

func newTestEnvWithHasher(t *testing.T, hasher *pkgauth.BcryptHasher, limiter ratelimit.Limiter, cfg AuthServiceConfig, opts ...AuthServiceOption) *testEnv {
	t.Helper()
	store := NewMockCredentialStore(newTestUser(t, hasher))
	sessions := newTestSessions()

	if limiter == nil {
		limiter = newTestLimiter(t, ratelimit.DefaultMaxAttempts)
	}

	service, err := NewAuthService(store, limiter, sessions, hasher, cfg, discardLogger(), opts...)
	require.NoError(t, err)

	return &testEnv{service: service, store: store, sessions: sessions, hasher: hasher}
}
