package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/dragonbane-auth/internal/deadline"
	"github.com/BradenHooton/dragonbane-auth/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionConfig configures session token signing
type SessionConfig struct {
	Secret string
	TTL    time.Duration
	Issuer string
	// DenylistTimeout bounds each denylist lookup or insert.
	DenylistTimeout time.Duration
}

// DefaultDenylistTimeout applies when SessionConfig.DenylistTimeout is unset.
const DefaultDenylistTimeout = 3 * time.Second

// SessionManager issues, verifies and revokes signed session tokens
type SessionManager struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	denylist Denylist
	timeout  time.Duration
	now      func() time.Time
}

// NewSessionManager creates a new SessionManager
func NewSessionManager(cfg SessionConfig, denylist Denylist) *SessionManager {
	if cfg.DenylistTimeout <= 0 {
		cfg.DenylistTimeout = DefaultDenylistTimeout
	}
	return &SessionManager{
		secret:   []byte(cfg.Secret),
		ttl:      cfg.TTL,
		issuer:   cfg.Issuer,
		denylist: denylist,
		timeout:  cfg.DenylistTimeout,
		now:      time.Now,
	}
}

// Issue creates a session token for userID with a fresh random identifier
func (m *SessionManager) Issue(_ context.Context, userID string) (*models.SessionToken, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", models.ErrTokenIssue)
	}

	jti, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTokenIssue, err)
	}

	now := m.now()
	claims := &models.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTokenIssue, err)
	}

	return &models.SessionToken{
		ID:        claims.ID,
		Value:     tokenString,
		UserID:    userID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ParseClaims checks signature, expiry and required claims without
// consulting the denylist. Failures are *models.TokenError values.
func (m *SessionManager) ParseClaims(tokenString string) (*models.SessionClaims, error) {
	if tokenString == "" {
		return nil, models.ErrTokenMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &models.SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, mapJWTError(err)
	}

	if claims.ID == "" || claims.Subject == "" {
		return nil, models.ErrTokenMalformed
	}

	return claims, nil
}

// Verify returns the identity id of a valid, unrevoked token. A denylist
// fault fails closed with an error wrapping models.ErrDenylistUnavailable.
func (m *SessionManager) Verify(ctx context.Context, tokenString string) (string, error) {
	claims, err := m.ParseClaims(tokenString)
	if err != nil {
		return "", err
	}

	revoked, err := deadline.Call(ctx, m.timeout, "denylist_contains", func(ctx context.Context) (bool, error) {
		return m.denylist.Contains(ctx, claims.ID)
	})
	if err != nil {
		return "", denylistFault(err)
	}
	if revoked {
		return "", models.ErrTokenRevoked
	}

	return claims.Subject, nil
}

// Revoke denylists a token until its own expiry. Revoking an expired
// token is a no-op.
func (m *SessionManager) Revoke(ctx context.Context, tokenString string) error {
	claims, err := m.ParseClaims(tokenString)
	if err != nil {
		if errors.Is(err, models.ErrTokenExpired) {
			return nil
		}
		return err
	}

	err = deadline.Exec(ctx, m.timeout, "denylist_add", func(ctx context.Context) error {
		return m.denylist.Add(ctx, claims.ID, claims.ExpiresAt.Time)
	})
	if err != nil {
		return denylistFault(err)
	}
	return nil
}

func denylistFault(err error) error {
	if errors.Is(err, models.ErrDenylistUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrDenylistUnavailable, err)
}

// mapJWTError reduces parser errors to the session token taxonomy.
// Signature problems win over claim problems.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return models.ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.ErrTokenExpired
	default:
		return models.ErrTokenMalformed
	}
}
