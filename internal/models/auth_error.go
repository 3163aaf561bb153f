package models

import "time"

// AuthErrorKind enumerates the only failure kinds that leave the authenticator.
type AuthErrorKind int

const (
	AuthInvalidCredentials AuthErrorKind = iota + 1
	AuthTooManyAttempts
	AuthAccountLocked
	AuthServiceUnavailable
)

// AuthError is the external authentication failure. It carries no
// information about which identity was involved or why a fault happened.
type AuthError struct {
	Kind AuthErrorKind
	// RetryAfter is how long a TooManyAttempts denial lasts, when known.
	RetryAfter time.Duration
}

var (
	ErrInvalidCredentials = &AuthError{Kind: AuthInvalidCredentials}
	ErrTooManyAttempts    = &AuthError{Kind: AuthTooManyAttempts}
	ErrAccountLocked      = &AuthError{Kind: AuthAccountLocked}
	ErrServiceUnavailable = &AuthError{Kind: AuthServiceUnavailable}
)

func (e *AuthError) Error() string {
	switch e.Kind {
	case AuthInvalidCredentials:
		return "invalid login credentials"
	case AuthTooManyAttempts:
		return "too many login attempts"
	case AuthAccountLocked:
		return "account temporarily locked"
	default:
		return "authentication service unavailable"
	}
}

// Code returns the stable machine-readable identifier of the kind.
func (e *AuthError) Code() string {
	switch e.Kind {
	case AuthInvalidCredentials:
		return "invalid_credentials"
	case AuthTooManyAttempts:
		return "too_many_attempts"
	case AuthAccountLocked:
		return "account_locked"
	default:
		return "service_unavailable"
	}
}

// Retryable reports whether the same request may succeed later without new input.
func (e *AuthError) Retryable() bool {
	return e.Kind != AuthInvalidCredentials
}

// Is matches any AuthError of the same kind.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

// TokenErrorKind enumerates session token verification failures.
type TokenErrorKind int

const (
	TokenMalformed TokenErrorKind = iota + 1
	TokenExpired
	TokenRevoked
	TokenSignatureInvalid
)

// TokenError is returned when a session token fails verification.
type TokenError struct {
	Kind TokenErrorKind
}

var (
	ErrTokenMalformed        = &TokenError{Kind: TokenMalformed}
	ErrTokenExpired          = &TokenError{Kind: TokenExpired}
	ErrTokenRevoked          = &TokenError{Kind: TokenRevoked}
	ErrTokenSignatureInvalid = &TokenError{Kind: TokenSignatureInvalid}
)

func (e *TokenError) Error() string {
	switch e.Kind {
	case TokenExpired:
		return "session token expired"
	case TokenRevoked:
		return "session token revoked"
	case TokenSignatureInvalid:
		return "session token signature invalid"
	default:
		return "session token malformed"
	}
}

func (e *TokenError) Code() string {
	switch e.Kind {
	case TokenExpired:
		return "token_expired"
	case TokenRevoked:
		return "token_revoked"
	case TokenSignatureInvalid:
		return "token_signature_invalid"
	default:
		return "token_malformed"
	}
}

func (e *TokenError) Is(target error) bool {
	t, ok := target.(*TokenError)
	return ok && t.Kind == e.Kind
}
