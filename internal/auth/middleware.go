package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/dragonbane-auth/internal/models"
	pkghttp "github.com/BradenHooton/dragonbane-auth/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing the verified session in context
	SessionContextKey contextKey = "session"
)

// SessionVerifier verifies bearer session tokens
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Session is the verified caller attached to a request
type Session struct {
	UserID string
	Token  string
}

// RequireSession validates the bearer token on every request and injects the
// verified session into the request context. Denylist faults fail closed.
func RequireSession(verifier SessionVerifier, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				pkghttp.WriteTokenError(w, models.ErrTokenMalformed)
				return
			}

			userID, err := verifier.Verify(r.Context(), tokenString)
			if err != nil {
				var tokenErr *models.TokenError
				if errors.As(err, &tokenErr) {
					pkghttp.WriteTokenError(w, tokenErr)
					return
				}
				logger.Error("session verification unavailable", slog.Any("error", err))
				pkghttp.WriteAuthError(w, models.ErrServiceUnavailable)
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, &Session{UserID: userID, Token: tokenString})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionFromContext extracts the verified session from request context
func GetSessionFromContext(r *http.Request) *Session {
	session, ok := r.Context().Value(SessionContextKey).(*Session)
	if !ok {
		return nil
	}
	return session
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
