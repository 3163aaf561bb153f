package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted by RATE_LIMIT_BACKEND and DENYLIST_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Email     EmailConfig
	Admin     AdminConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	// LoginRequestsPerMinute is the coarse per-IP HTTP throttle in front of
	// the per-identity limiter.
	LoginRequestsPerMinute int
}

type AuthConfig struct {
	SessionSecret    string
	SessionTTL       time.Duration
	SessionIssuer    string
	DenylistBackend  string
	BcryptCost       int
	LockoutThreshold int
	LockoutDuration  time.Duration
	StoreTimeout     time.Duration
	FailureFloor     time.Duration
	FailureJitter    time.Duration
	FailureHeadroom  time.Duration
}

type RateLimitConfig struct {
	Backend     string
	Window      time.Duration
	MaxAttempts int
}

type EmailConfig struct {
	Enabled       bool
	FromAddress   string
	Region        string
	NotifyTimeout time.Duration
}

// AdminConfig seeds the first user record at startup when both fields are set.
type AdminConfig struct {
	Email    string
	Password string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	sessionSecret := getEnv("SESSION_SECRET", "")
	if sessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "dragonbane"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", ""),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvAsInt("REDIS_DB", 0),
			DialTimeout: getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		},
		Server: ServerConfig{
			Port:                   getEnv("PORT", "8080"),
			Env:                    env,
			LogLevel:               getEnv("LOG_LEVEL", "info"),
			AllowedOrigins:         parseAllowedOrigins(env),
			TrustedProxies:         parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:            getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:           getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:            getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout:         getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			LoginRequestsPerMinute: getEnvAsInt("LOGIN_REQUESTS_PER_MINUTE", 60),
		},
		Auth: AuthConfig{
			SessionSecret:    sessionSecret,
			SessionTTL:       getEnvAsDuration("SESSION_TTL", 1*time.Hour),
			SessionIssuer:    getEnv("SESSION_ISSUER", "dragonbane-auth"),
			DenylistBackend:  strings.ToLower(getEnv("DENYLIST_BACKEND", BackendMemory)),
			BcryptCost:       getEnvAsInt("BCRYPT_COST", 12),
			LockoutThreshold: getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			LockoutDuration:  getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
			StoreTimeout:     getEnvAsDuration("STORE_TIMEOUT", 3*time.Second),
			FailureFloor:     getEnvAsDuration("AUTH_FAILURE_FLOOR", 250*time.Millisecond),
			FailureJitter:    getEnvAsDuration("AUTH_FAILURE_JITTER", 100*time.Millisecond),
			FailureHeadroom:  getEnvAsDuration("AUTH_FAILURE_HEADROOM", 250*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			Backend:     strings.ToLower(getEnv("RATE_LIMIT_BACKEND", BackendMemory)),
			Window:      getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			MaxAttempts: getEnvAsInt("RATE_LIMIT_MAX_ATTEMPTS", 20),
		},
		Email: EmailConfig{
			Enabled:       getEnvAsBool("LOCKOUT_EMAIL_ENABLED", false),
			FromAddress:   getEnv("EMAIL_FROM_ADDRESS", ""),
			Region:        getEnv("AWS_REGION", "us-east-1"),
			NotifyTimeout: getEnvAsDuration("EMAIL_NOTIFY_TIMEOUT", 10*time.Second),
		},
		Admin: AdminConfig{
			Email:    getEnv("ADMIN_EMAIL", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate session secret strength
	if err := validateSessionSecret(sessionSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	for name, backend := range map[string]string{
		"RATE_LIMIT_BACKEND": c.RateLimit.Backend,
		"DENYLIST_BACKEND":   c.Auth.DenylistBackend,
	} {
		switch backend {
		case BackendMemory, BackendPostgres:
		case BackendRedis:
			if c.Redis.Addr == "" {
				return fmt.Errorf("REDIS_ADDR is required when %s=redis", name)
			}
		default:
			return fmt.Errorf("%s must be one of memory, redis, postgres (got %q)", name, backend)
		}
	}

	if c.Auth.LockoutThreshold < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1")
	}
	if c.Auth.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.Auth.FailureFloor < 0 || c.Auth.FailureJitter < 0 || c.Auth.FailureHeadroom < 0 {
		return fmt.Errorf("AUTH_FAILURE_FLOOR, AUTH_FAILURE_JITTER and AUTH_FAILURE_HEADROOM must not be negative")
	}
	if c.RateLimit.MaxAttempts < 1 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_ATTEMPTS and RATE_LIMIT_WINDOW must be positive")
	}
	if c.Email.Enabled && c.Email.FromAddress == "" {
		return fmt.Errorf("EMAIL_FROM_ADDRESS is required when LOCKOUT_EMAIL_ENABLED is set")
	}
	if (c.Admin.Email == "") != (c.Admin.Password == "") {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	return nil
}

// UsesRedis reports whether any backend needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.RateLimit.Backend == BackendRedis || c.Auth.DenylistBackend == BackendRedis
}

// validateSessionSecret enforces minimum security standards for the session signing secret
func validateSessionSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if strings.Repeat(weak, len(secretLower)/len(weak)) == secretLower {
			return fmt.Errorf("SESSION_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the connection string in URL form for database/sql drivers.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		origins := parseList(getEnv("ALLOWED_ORIGINS", ""))
		if origins == nil {
			return []string{} // Default to no origins in production
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
