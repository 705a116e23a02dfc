package logger

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"
)

// AuditEvent represents a security audit event. Email is masked on emission.
type AuditEvent struct {
	EventType     string
	Email         string
	RequestID     string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

func (e AuditEvent) attrs(auditType string) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", e.EventType),
		slog.Bool("success", e.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if e.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(e.Email)))
	}
	if e.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", e.RequestID))
	}
	if e.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", e.IPAddress))
	}
	if e.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", e.UserAgent))
	}
	if e.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", e.FailureReason))
	}
	for _, key := range slices.Sorted(maps.Keys(e.Metadata)) {
		attrs = append(attrs, slog.String(key, e.Metadata[key]))
	}

	return attrs
}

// LogAuthAttempt logs authentication attempts
func (al *AuditLogger) LogAuthAttempt(ctx context.Context, event AuditEvent) {
	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", event.attrs("auth")...)
}

// LogAccountAction logs general account actions
func (al *AuditLogger) LogAccountAction(ctx context.Context, event AuditEvent) {
	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", event.attrs("account")...)
}
