package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/dragonbane-auth/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error     string `json:"error"`               // Machine-readable error code
	Message   string `json:"message"`             // Human-readable message
	Retryable bool   `json:"retryable,omitempty"` // Same request may succeed later
}

// RetryAfterSeconds is advertised on 429 and 503 responses when no
// better estimate is known
const RetryAfterSeconds = 30

// retryAfterSeconds rounds d up to whole seconds, falling back to the default.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return RetryAfterSeconds
	}
	return int((d + time.Second - 1) / time.Second)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeErrorResponse(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	// Encoding errors are not exposed to the client
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteAuthError renders one of the four authentication failure kinds.
// The message is safe to show as-is in a login form.
func WriteAuthError(w http.ResponseWriter, authErr *models.AuthError) {
	if authErr == nil {
		authErr = models.ErrServiceUnavailable
	}

	var (
		status  int
		message string
	)
	switch authErr.Kind {
	case models.AuthInvalidCredentials:
		status, message = http.StatusUnauthorized, "Invalid email address or password."
	case models.AuthTooManyAttempts:
		status, message = http.StatusTooManyRequests, "Too many sign-in attempts. Please try again later."
	case models.AuthAccountLocked:
		status, message = http.StatusLocked, "This account is temporarily locked. Please try again later."
	default:
		status, message = http.StatusServiceUnavailable, "The service is temporarily unavailable. Please try again later."
	}

	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(authErr.RetryAfter)))
	}

	writeErrorResponse(w, status, ErrorResponse{
		Error:     authErr.Code(),
		Message:   message,
		Retryable: authErr.Retryable(),
	})
}

// WriteTokenError renders a session token verification failure as 401
func WriteTokenError(w http.ResponseWriter, tokenErr *models.TokenError) {
	if tokenErr == nil {
		tokenErr = models.ErrTokenMalformed
	}
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	WriteError(w, http.StatusUnauthorized, tokenErr.Code(), "Session is not valid. Please sign in again.")
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}
