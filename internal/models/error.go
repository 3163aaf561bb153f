package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for internal failure causes. None of these cross the
// authenticator boundary; they are classified into an AuthError first.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrConflict   = errors.New("resource already exists")
	ErrBadRequest = errors.New("bad request")

	// Login pipeline causes
	ErrMalformedRequest   = errors.New("malformed login request")
	ErrPasswordMismatch   = errors.New("password does not match")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrLockoutActive      = errors.New("account lockout is active")
	ErrLimiterUnavailable = errors.New("rate limiter unavailable")

	// Session causes
	ErrDenylistUnavailable = errors.New("token denylist unavailable")
	ErrTokenIssue          = errors.New("failed to issue session token")
)

// StoreErrorCode is the structured failure code a credential store reports.
type StoreErrorCode string

const (
	StoreUnavailable   StoreErrorCode = "unavailable"
	StoreTimeout       StoreErrorCode = "timeout"
	StoreCorruptRecord StoreErrorCode = "corrupt_record"
	StoreInternal      StoreErrorCode = "internal"
)

// StoreError is returned by storage backends for any fault other than a
// missing record. Callers branch on Code, never on the message.
type StoreError struct {
	Code StoreErrorCode
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err with a structured code.
func NewStoreError(code StoreErrorCode, op string, err error) *StoreError {
	return &StoreError{Code: code, Op: op, Err: err}
}

// RateLimitError is a limiter denial. It matches ErrRateLimitExceeded.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimitExceeded, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}
