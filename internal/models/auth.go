package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
)

var validate = validator.New()

// LoginRequest is a single sign-in attempt. Password must never be logged.
type LoginRequest struct {
	Email         string `validate:"required,email,max=254"`
	Password      string `validate:"required,max=1024"`
	SourceAddress string `validate:"omitempty,ip"`
}

// NewLoginRequest builds a request with a normalized email.
func NewLoginRequest(email, password, sourceAddress string) LoginRequest {
	return LoginRequest{
		Email:         NormalizeEmail(email),
		Password:      password,
		SourceAddress: strings.TrimSpace(sourceAddress),
	}
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks the request shape. The returned error wraps
// ErrMalformedRequest and names the offending field, never its value.
func (r LoginRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrMalformedRequest, ve[0].Field(), ve[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return nil
}

// String keeps the password out of formatted output.
func (r LoginRequest) String() string {
	return fmt.Sprintf("LoginRequest{Email: %q, Password: [REDACTED], SourceAddress: %q}", r.Email, r.SourceAddress)
}

// SessionToken is an issued, signed session credential.
type SessionToken struct {
	ID        string    `json:"-"`
	Value     string    `json:"token"`
	UserID    string    `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionClaims is the signed payload of a session token. Subject holds the
// identity id and ID the unique token identifier.
type SessionClaims struct {
	jwt.RegisteredClaims
}
