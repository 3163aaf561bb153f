package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/dragonbane-auth/internal/auth"
	"github.com/BradenHooton/dragonbane-auth/internal/deadline"
	"github.com/BradenHooton/dragonbane-auth/internal/models"
	"github.com/BradenHooton/dragonbane-auth/internal/ratelimit"
	pkgauth "github.com/BradenHooton/dragonbane-auth/pkg/auth"
	pkglogger "github.com/BradenHooton/dragonbane-auth/pkg/logger"
)

// CredentialStore is the persisted user record connector. FindByEmail
// returns models.ErrNotFound for a missing record and *models.StoreError for
// any fault. RegisterFailure must apply models.User.RegisterFailure to the
// stored record as one atomic step.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateAttemptState(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error
	RegisterFailure(ctx context.Context, id string, policy models.LockoutPolicy, now time.Time) (models.AttemptState, error)
}

// SessionIssuer issues and revokes session tokens.
type SessionIssuer interface {
	Issue(ctx context.Context, userID string) (*models.SessionToken, error)
	Revoke(ctx context.Context, token string) error
}

// PasswordHasher compares passwords against stored hashes. Compare returns
// pkgauth.ErrMismatch for a wrong password.
type PasswordHasher interface {
	Compare(hash, password string) error
	ReferenceHash() string
}

// AuthServiceConfig holds lockout and dependency timeout settings
type AuthServiceConfig struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	StoreTimeout     time.Duration
	NotifyTimeout    time.Duration
	// FailureHeadroom is added to the measured reference compare time to
	// size the failure floor. It covers the counter write and limiter charge.
	FailureHeadroom time.Duration
	// Env selects log redaction for client addresses.
	Env string
}

// DefaultAuthServiceConfig returns the production defaults.
func DefaultAuthServiceConfig() AuthServiceConfig {
	return AuthServiceConfig{
		LockoutThreshold: 5,
		LockoutDuration:  15 * time.Minute,
		StoreTimeout:     3 * time.Second,
		NotifyTimeout:    10 * time.Second,
		FailureHeadroom:  250 * time.Millisecond,
	}
}

const calibrationSamples = 3

// AuthServiceOption configures optional collaborators
type AuthServiceOption func(*AuthService)

// WithTimingDelay pads failure responses to a latency floor.
func WithTimingDelay(td *auth.TimingDelay) AuthServiceOption {
	return func(s *AuthService) { s.timing = td }
}

// WithAuditLogger records login outcomes.
func WithAuditLogger(al *pkglogger.AuditLogger) AuthServiceOption {
	return func(s *AuthService) { s.auditLogger = al }
}

// WithLockoutNotifier sends a message to the account owner when a lockout starts.
func WithLockoutNotifier(n LockoutNotifier) AuthServiceOption {
	return func(s *AuthService) { s.notifier = n }
}

// AuthService authenticates login requests
type AuthService struct {
	store       CredentialStore
	limiter     ratelimit.Limiter
	sessions    SessionIssuer
	hasher      PasswordHasher
	config      AuthServiceConfig
	timing      *auth.TimingDelay
	notifier    LockoutNotifier
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(
	store CredentialStore,
	limiter ratelimit.Limiter,
	sessions SessionIssuer,
	hasher PasswordHasher,
	config AuthServiceConfig,
	logger *slog.Logger,
	opts ...AuthServiceOption,
) (*AuthService, error) {
	if config.LockoutThreshold < 1 {
		return nil, fmt.Errorf("lockout threshold must be at least 1, got %d", config.LockoutThreshold)
	}
	if config.StoreTimeout <= 0 {
		return nil, fmt.Errorf("store timeout must be positive, got %s", config.StoreTimeout)
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = DefaultAuthServiceConfig().NotifyTimeout
	}

	s := &AuthService{
		store:    store,
		limiter:  limiter,
		sessions: sessions,
		hasher:   hasher,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.timing != nil {
		floor := s.timing.Calibrate(func() {
			_ = hasher.Compare(hasher.ReferenceHash(), "timing calibration")
		}, calibrationSamples, config.FailureHeadroom)
		logger.Info("failure response floor set", slog.Duration("floor", floor))
	}
	return s, nil
}

// Login authenticates raw form input.
func (s *AuthService) Login(ctx context.Context, email, password, sourceAddress string) (*models.SessionToken, error) {
	return s.Authenticate(ctx, models.NewLoginRequest(email, password, sourceAddress))
}

// Authenticate verifies a login request and issues a session token. Every
// error it returns is a *models.AuthError; internal causes are logged only.
func (s *AuthService) Authenticate(ctx context.Context, req models.LoginRequest) (*models.SessionToken, error) {
	start := time.Now()

	token, userID, cause := s.authenticate(ctx, req)
	if cause == nil {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType: pkglogger.EventLogin,
			UserID:    userID,
			IPAddress: req.SourceAddress,
			Success:   true,
		})
		s.timing.WaitFrom(ctx, start, true)
		return token, nil
	}

	authErr := ClassifyError(cause)
	if authErr.Kind == models.AuthServiceUnavailable {
		s.logger.Error("login failed on dependency fault",
			slog.String("reason", failureReason(cause)),
			slog.Any("error", cause))
	} else {
		s.logger.Info("login rejected",
			slog.String("reason", failureReason(cause)),
			pkglogger.RedactedAttr("source_address", req.SourceAddress, s.config.Env))
	}
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:     pkglogger.EventLogin,
		UserID:        userID,
		Email:         req.Email,
		IPAddress:     req.SourceAddress,
		FailureReason: failureReason(cause),
	})

	s.timing.WaitFrom(ctx, start, false)
	return nil, authErr
}

// authenticate runs the login pipeline and returns the internal cause of any
// failure. userID is set once the identity is known.
func (s *AuthService) authenticate(ctx context.Context, req models.LoginRequest) (token *models.SessionToken, userID string, cause error) {
	if err := req.Validate(); err != nil {
		return nil, "", err
	}

	keys := ratelimit.Keys(req.Email, req.SourceAddress)
	if err := s.checkLimits(ctx, keys); err != nil {
		return nil, "", err
	}

	user, err := deadline.Call(ctx, s.config.StoreTimeout, "find_by_email", func(ctx context.Context) (*models.User, error) {
		return s.store.FindByEmail(ctx, req.Email)
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) && !isStoreError(err) {
			// Same bcrypt cost and limiter charge as a wrong password.
			_ = s.hasher.Compare(s.hasher.ReferenceHash(), req.Password)
			s.recordFailure(ctx, keys)
		}
		return nil, "", err
	}
	if user == nil {
		return nil, "", models.NewStoreError(models.StoreCorruptRecord, "find_by_email", errors.New("nil record without error"))
	}

	now := s.now()
	if user.IsLocked(now) {
		return nil, user.ID, models.ErrLockoutActive
	}

	if err := s.hasher.Compare(user.PasswordHash, req.Password); err != nil {
		if !errors.Is(err, pkgauth.ErrMismatch) {
			return nil, user.ID, models.NewStoreError(models.StoreCorruptRecord, "compare_password", err)
		}
		if err := s.registerFailure(ctx, user, now); err != nil {
			return nil, user.ID, err
		}
		s.recordFailure(ctx, keys)
		return nil, user.ID, models.ErrPasswordMismatch
	}

	if user.FailedAttempts != 0 || user.LockedUntil != nil {
		err := deadline.Exec(ctx, s.config.StoreTimeout, "update_attempt_state", func(ctx context.Context) error {
			return s.store.UpdateAttemptState(ctx, user.ID, 0, nil)
		})
		if err != nil {
			return nil, user.ID, err
		}
	}

	for _, key := range keys {
		if err := deadline.Exec(ctx, s.config.StoreTimeout, "rate_limit_reset", func(ctx context.Context) error {
			return s.limiter.Reset(ctx, key)
		}); err != nil {
			s.logger.Warn("failed to reset rate limit window", slog.Any("error", err))
		}
	}

	token, err = s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return nil, user.ID, err
	}
	return token, user.ID, nil
}

// checkLimits charges one attempt to each key in order and stops at the first
// denial. Keys are checked one at a time, so a key earlier in the list may be
// charged for an attempt a later key rejects.
func (s *AuthService) checkLimits(ctx context.Context, keys []string) error {
	for _, key := range keys {
		decision, err := deadline.Call(ctx, s.config.StoreTimeout, "rate_limit_check", func(ctx context.Context) (ratelimit.Decision, error) {
			return s.limiter.CheckAndRecordAttempt(ctx, key)
		})
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return &models.RateLimitError{RetryAfter: decision.RetryAfter}
		}
	}
	return nil
}

// registerFailure counts a wrong password against the stored record. The
// store applies the increment atomically; the failure that crosses the
// threshold is the only one that logs, audits and notifies the lockout.
func (s *AuthService) registerFailure(ctx context.Context, user *models.User, now time.Time) error {
	policy := models.LockoutPolicy{Threshold: s.config.LockoutThreshold, Duration: s.config.LockoutDuration}
	state, err := deadline.Call(ctx, s.config.StoreTimeout, "register_failure", func(ctx context.Context) (models.AttemptState, error) {
		return s.store.RegisterFailure(ctx, user.ID, policy, now)
	})
	if err != nil {
		return err
	}

	if state.LockStarted && state.LockedUntil != nil {
		s.logger.Warn("account locked",
			slog.String("user_id", user.ID),
			slog.Int("failed_attempts", state.FailedAttempts),
			slog.Time("locked_until", *state.LockedUntil))
		s.auditLogger.LogLockout(ctx, user.ID, user.Email, *state.LockedUntil)
		s.notifyLockout(ctx, user.Email, *state.LockedUntil)
	}
	return nil
}

// recordFailure charges every limiter key for a failed attempt. Errors are
// logged only; the next gate check fails closed if the limiter is down.
func (s *AuthService) recordFailure(ctx context.Context, keys []string) {
	for _, key := range keys {
		err := deadline.Exec(ctx, s.config.StoreTimeout, "rate_limit_record_failure", func(ctx context.Context) error {
			return s.limiter.RecordFailure(ctx, key)
		})
		if err != nil {
			s.logger.Warn("failed to record rate limit failure", slog.Any("error", err))
		}
	}
}

// notifyLockout sends the lockout message in the background with its own deadline.
func (s *AuthService) notifyLockout(ctx context.Context, email string, lockedUntil time.Time) {
	if s.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.NotifyTimeout)
	go func() {
		defer cancel()
		if err := s.notifier.NotifyLockout(ctx, email, lockedUntil); err != nil {
			s.logger.Error("failed to send lockout notification",
				slog.String("email", pkglogger.SanitizedEmail(email)),
				slog.Any("error", err))
		}
	}()
}

// Logout revokes the caller's session token.
func (s *AuthService) Logout(ctx context.Context, userID, token, sourceAddress string) error {
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return err
	}
	s.auditLogger.LogLogout(ctx, userID, sourceAddress)
	return nil
}

func isStoreError(err error) bool {
	var storeErr *models.StoreError
	return errors.As(err, &storeErr)
}
