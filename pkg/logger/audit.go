package logger

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types emitted by the authentication core.
const (
	EventLogin   = "login"
	EventLockout = "account_lockout"
	EventLogout  = "logout"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	Email         string
	IPAddress     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		now:    time.Now,
	}
}

// LogAuthAttempt logs a login outcome. Emails are masked before they are written.
func (al *AuditLogger) LogAuthAttempt(ctx context.Context, event AuditEvent) {
	if al == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogLockout records an account crossing the failure threshold.
func (al *AuditLogger) LogLockout(ctx context.Context, userID, email string, lockedUntil time.Time) {
	al.LogAuthAttempt(ctx, AuditEvent{
		EventType:     EventLockout,
		UserID:        userID,
		Email:         email,
		FailureReason: "failure_threshold_reached",
		Metadata: map[string]string{
			"locked_until": lockedUntil.UTC().Format(time.RFC3339),
		},
	})
}

// LogLogout records a session revocation.
func (al *AuditLogger) LogLogout(ctx context.Context, userID, ipAddress string) {
	al.LogAuthAttempt(ctx, AuditEvent{
		EventType: EventLogout,
		UserID:    userID,
		IPAddress: ipAddress,
		Success:   true,
	})
}
