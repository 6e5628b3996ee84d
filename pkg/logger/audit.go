package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditLogger provides audit logging for auth and moderation actions
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogAuthAttempt logs an authentication attempt. The email is masked
// before it reaches the log stream.
func (al *AuditLogger) LogAuthAttempt(eventType, email, ipAddress string, success bool) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", eventType),
		slog.Bool("success", success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(email)))
	}
	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}

	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

// LogModerationAction logs admin moderation actions (bans, unbans,
// perk changes, settings toggles) with actor and target attribution.
func (al *AuditLogger) LogModerationAction(eventType, adminID, targetUserID string, metadata map[string]any) {
	attrs := []slog.Attr{
		slog.String("audit_type", "moderation"),
		slog.String("event_type", eventType),
		slog.String("admin_id", adminID),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if targetUserID != "" {
		attrs = append(attrs, slog.String("target_user_id", targetUserID))
	}

	for key, val := range metadata {
		attrs = append(attrs, slog.Any(key, val))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}
