package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/dragonbane-auth/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultLoginRateLimit returns the coarse per-address throttle applied ahead
// of the per-identity login limiter
func DefaultLoginRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// The address comes from the resolver, so forwarding headers only count when
// sent by a trusted proxy.
func RateLimitByIP(config RateLimitConfig, resolver *pkghttp.IPResolver) func(next http.Handler) http.Handler {
	if config.RequestsPerMinute <= 0 {
		config = DefaultLoginRateLimit()
	}
	if resolver == nil {
		resolver = pkghttp.NewIPResolver(nil)
	}

	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return resolver.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests. Please try again later.")
		}),
	)
}
