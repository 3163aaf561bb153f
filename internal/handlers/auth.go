package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/dragonbane-auth/internal/auth"
	"github.com/BradenHooton/dragonbane-auth/internal/models"
	"github.com/BradenHooton/dragonbane-auth/internal/services"
	pkghttp "github.com/BradenHooton/dragonbane-auth/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password, sourceAddress string) (*models.SessionToken, error)
	Logout(ctx context.Context, userID, token, sourceAddress string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service    AuthServiceInterface
	ipResolver *pkghttp.IPResolver
	logger     *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipResolver *pkghttp.IPResolver, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:    service,
		ipResolver: ipResolver,
		logger:     logger,
	}
}

// LoginRequest represents the request body for login. Field format is
// checked by the authenticator so malformed input fails like a wrong password.
type LoginRequest struct {
	Email    string `json:"email" validate:"max=320"`
	Password string `json:"password" validate:"max=4096"`
}

// LoginResponse represents a successful login
type LoginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int64     `json:"expires_in"`
}

// SessionResponse describes the caller's verified session
type SessionResponse struct {
	UserID string `json:"user_id"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	token, err := h.service.Login(r.Context(), req.Email, req.Password, h.ipResolver.ClientIP(r))
	if err != nil {
		pkghttp.WriteAuthError(w, asAuthError(err))
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token.Value,
		TokenType: "Bearer",
		ExpiresAt: token.ExpiresAt,
		ExpiresIn: int64(time.Until(token.ExpiresAt).Seconds()),
	})
}

// Session handles GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteTokenError(w, models.ErrTokenMalformed)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{UserID: session.UserID})
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteTokenError(w, models.ErrTokenMalformed)
		return
	}

	if err := h.service.Logout(r.Context(), session.UserID, session.Token, h.ipResolver.ClientIP(r)); err != nil {
		var tokenErr *models.TokenError
		if errors.As(err, &tokenErr) {
			pkghttp.WriteTokenError(w, tokenErr)
			return
		}
		h.logger.Error("logout failed", slog.String("user_id", session.UserID), slog.Any("error", err))
		pkghttp.WriteAuthError(w, models.ErrServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// asAuthError guarantees only the four authentication kinds reach the client.
func asAuthError(err error) *models.AuthError {
	var authErr *models.AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	return services.ClassifyError(err)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
