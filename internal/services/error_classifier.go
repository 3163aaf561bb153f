package services

import (
	"errors"

	"github.com/BradenHooton/dragonbane-auth/internal/models"
)

// ClassifyError maps an internal failure cause to one of the four external
// AuthError kinds. It is pure and never fails: unknown causes, including nil,
// become ServiceUnavailable.
func ClassifyError(cause error) *models.AuthError {
	var authErr *models.AuthError
	if errors.As(cause, &authErr) {
		switch authErr.Kind {
		case models.AuthInvalidCredentials, models.AuthTooManyAttempts, models.AuthAccountLocked, models.AuthServiceUnavailable:
			return authErr
		}
		return models.ErrServiceUnavailable
	}

	// Store faults first: a StoreError wrapping ErrNotFound is still a fault.
	var storeErr *models.StoreError
	if errors.As(cause, &storeErr) {
		return models.ErrServiceUnavailable
	}

	switch {
	case cause == nil:
		return models.ErrServiceUnavailable
	case errors.Is(cause, models.ErrMalformedRequest),
		errors.Is(cause, models.ErrNotFound),
		errors.Is(cause, models.ErrPasswordMismatch):
		return models.ErrInvalidCredentials
	case errors.Is(cause, models.ErrRateLimitExceeded):
		var limitErr *models.RateLimitError
		if errors.As(cause, &limitErr) && limitErr.RetryAfter > 0 {
			return &models.AuthError{Kind: models.AuthTooManyAttempts, RetryAfter: limitErr.RetryAfter}
		}
		return models.ErrTooManyAttempts
	case errors.Is(cause, models.ErrLockoutActive):
		return models.ErrAccountLocked
	default:
		// Limiter, denylist, issuance and context faults land here too.
		return models.ErrServiceUnavailable
	}
}

// failureReason is the audit label for a cause. It is logged, never returned.
func failureReason(cause error) string {
	var storeErr *models.StoreError
	switch {
	case errors.As(cause, &storeErr):
		return "store_" + string(storeErr.Code)
	case errors.Is(cause, models.ErrMalformedRequest):
		return "malformed_request"
	case errors.Is(cause, models.ErrNotFound):
		return "unknown_identity"
	case errors.Is(cause, models.ErrPasswordMismatch):
		return "password_mismatch"
	case errors.Is(cause, models.ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(cause, models.ErrLockoutActive):
		return "account_locked"
	case errors.Is(cause, models.ErrLimiterUnavailable):
		return "limiter_unavailable"
	case errors.Is(cause, models.ErrTokenIssue):
		return "token_issue"
	default:
		return "internal"
	}
}
