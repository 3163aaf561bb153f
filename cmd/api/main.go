package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/dragonbane-auth/internal/auth"
	"github.com/BradenHooton/dragonbane-auth/internal/config"
	"github.com/BradenHooton/dragonbane-auth/internal/database"
	"github.com/BradenHooton/dragonbane-auth/internal/handlers"
	middlewareCustom "github.com/BradenHooton/dragonbane-auth/internal/middleware"
	"github.com/BradenHooton/dragonbane-auth/internal/models"
	"github.com/BradenHooton/dragonbane-auth/internal/ratelimit"
	"github.com/BradenHooton/dragonbane-auth/internal/repositories"
	"github.com/BradenHooton/dragonbane-auth/internal/routes"
	"github.com/BradenHooton/dragonbane-auth/internal/services"
	pkgauth "github.com/BradenHooton/dragonbane-auth/pkg/auth"
	pkghttp "github.com/BradenHooton/dragonbane-auth/pkg/http"
	pkglogger "github.com/BradenHooton/dragonbane-auth/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("rate_limit_backend", cfg.RateLimit.Backend),
		slog.String("denylist_backend", cfg.Auth.DenylistBackend),
	)

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient, err = database.NewRedisClient(&cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)

	limiter, err := newLimiter(cfg, db, redisClient)
	if err != nil {
		logger.Error("failed to initialize rate limiter", slog.Any("error", err))
		os.Exit(1)
	}

	sessions := auth.NewSessionManager(auth.SessionConfig{
		Secret: cfg.Auth.SessionSecret,
		TTL:    cfg.Auth.SessionTTL,
		Issuer: cfg.Auth.SessionIssuer,
		// Denylist lookups share the credential store's budget.
		DenylistTimeout: cfg.Auth.StoreTimeout,
	}, newDenylist(cfg, db, redisClient))

	hasher, err := pkgauth.NewBcryptHasher(cfg.Auth.BcryptCost)
	if err != nil {
		logger.Error("failed to initialize password hasher", slog.Any("error", err))
		os.Exit(1)
	}

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		Floor:  cfg.Auth.FailureFloor,
		Jitter: cfg.Auth.FailureJitter,
	})

	opts := []services.AuthServiceOption{
		services.WithTimingDelay(timingDelay),
		services.WithAuditLogger(pkglogger.NewAuditLogger(logger)),
	}

	if cfg.Email.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		notifier, err := services.NewSESLockoutNotifier(ctx, cfg.Email.Region, cfg.Email.FromAddress, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize lockout notifier", slog.Any("error", err))
			os.Exit(1)
		}
		opts = append(opts, services.WithLockoutNotifier(notifier))
	}

	authService, err := services.NewAuthService(userRepo, limiter, sessions, hasher, services.AuthServiceConfig{
		LockoutThreshold: cfg.Auth.LockoutThreshold,
		LockoutDuration:  cfg.Auth.LockoutDuration,
		StoreTimeout:     cfg.Auth.StoreTimeout,
		NotifyTimeout:    cfg.Email.NotifyTimeout,
		FailureHeadroom:  cfg.Auth.FailureHeadroom,
		Env:              cfg.Server.Env,
	}, logger, opts...)
	if err != nil {
		logger.Error("failed to initialize auth service", slog.Any("error", err))
		os.Exit(1)
	}

	// Bootstrap first user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, cfg.Admin, userRepo, hasher, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	ipResolver := pkghttp.NewIPResolver(&pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies})

	checks := map[string]handlers.HealthChecker{"database": db.HealthCheck}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return database.RedisHealthCheck(ctx, redisClient)
		}
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.NewCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipResolver))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:   handlers.NewAuthHandler(authService, ipResolver, logger),
		HealthHandler: handlers.NewHealthHandler(checks, logger),
		Sessions:      sessions,
		IPResolver:    ipResolver,
		LoginLimit:    middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.LoginRequestsPerMinute},
		Logger:        logger,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func newLimiter(cfg *config.Config, db *database.DB, client *redis.Client) (ratelimit.Limiter, error) {
	limitCfg := ratelimit.Config{Window: cfg.RateLimit.Window, MaxAttempts: cfg.RateLimit.MaxAttempts}

	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		return ratelimit.NewRedisLimiter(client, limitCfg)
	case config.BackendPostgres:
		return repositories.NewLoginAttemptRepository(db, limitCfg)
	default:
		return ratelimit.NewMemoryLimiter(limitCfg)
	}
}

func newDenylist(cfg *config.Config, db *database.DB, client *redis.Client) auth.Denylist {
	switch cfg.Auth.DenylistBackend {
	case config.BackendRedis:
		return auth.NewRedisDenylist(client)
	case config.BackendPostgres:
		return repositories.NewTokenRevocationRepository(db)
	default:
		return auth.NewMemoryDenylist()
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureAdminUser creates the first user record if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, admin config.AdminConfig, userRepo *repositories.UserRepository, hasher *pkgauth.BcryptHasher, logger *slog.Logger) error {
	if admin.Email == "" || admin.Password == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	email := models.NormalizeEmail(admin.Email)

	// Check if admin already exists
	_, err := userRepo.FindByEmail(ctx, email)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := hasher.Hash(admin.Password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	if _, err := userRepo.Create(ctx, &models.User{Email: email, PasswordHash: hashedPassword}); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created", slog.String("email", pkglogger.SanitizedEmail(email)))
	return nil
}
