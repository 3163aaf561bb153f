package routes

import (
	"log/slog"

	"github.com/BradenHooton/dragonbane-auth/internal/auth"
	"github.com/BradenHooton/dragonbane-auth/internal/handlers"
	"github.com/BradenHooton/dragonbane-auth/internal/middleware"
	pkghttp "github.com/BradenHooton/dragonbane-auth/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Dependencies groups what the route table needs
type Dependencies struct {
	AuthHandler   *handlers.AuthHandler
	HealthHandler *handlers.HealthHandler
	Sessions      auth.SessionVerifier
	IPResolver    *pkghttp.IPResolver
	LoginLimit    middleware.RateLimitConfig
	Logger        *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	router.Get("/health", deps.HealthHandler.Health)

	// Public: the coarse per-address throttle sits in front of the
	// per-identity limiter inside the authenticator
	router.With(middleware.RateLimitByIP(deps.LoginLimit, deps.IPResolver)).Post("/auth/login", deps.AuthHandler.Login)

	// Protected routes - a verified session is required
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(deps.Sessions, deps.Logger))

		r.Get("/auth/session", deps.AuthHandler.Session)
		r.Post("/auth/logout", deps.AuthHandler.Logout)
	})
}
