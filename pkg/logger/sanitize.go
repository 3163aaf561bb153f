package logger

import (
	"log/slog"
	"net/url"
	"strings"
)

// Redacted replaces values that must not reach production logs.
const Redacted = "[REDACTED]"

// sensitiveQueryKeys are matched as substrings of lower-cased query keys.
var sensitiveQueryKeys = []string{"password", "passwd", "token", "secret", "email", "session", "auth"}

// SanitizedEmail masks an address for logs, keeping the first letter of the
// local part and the top-level domain: "user@example.com" -> "u***@*******.com".
func SanitizedEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	masked := local[:1] + strings.Repeat("*", len(local)-1)
	if dot := strings.LastIndexByte(domain, '.'); dot > 0 {
		domain = maskExcept(domain[:dot], '.') + domain[dot:]
	}
	return masked + "@" + domain
}

func maskExcept(s string, keep rune) string {
	return strings.Map(func(r rune) rune {
		if r == keep {
			return r
		}
		return '*'
	}, s)
}

// RedactedAttr logs value under key outside production only.
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, Redacted)
	}
	return slog.String(key, value)
}

// QueryHasSecrets reports whether any query parameter name looks like it
// carries a credential or identity. Unparseable queries count as sensitive.
func QueryHasSecrets(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return true
	}
	for name := range values {
		name = strings.ToLower(name)
		for _, fragment := range sensitiveQueryKeys {
			if strings.Contains(name, fragment) {
				return true
			}
		}
	}
	return false
}
