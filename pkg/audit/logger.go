package audit

import (
	"context"
	"net/http"
	"time"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered events
	Close() error
}

// contextKey is the type for context keys
type contextKey string

// AuditLoggerKey is the context key for the audit logger
const AuditLoggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
// when none is set.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NopLogger{}
}

// NopLogger discards all events. It stands in wherever audit logging is
// not configured so callers never nil-check.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NopLogger) Close() error                                { return nil }

// NewEvent creates an event stamped with the current time
func NewEvent(eventType EventType, status EventStatus) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Metadata:  make(map[string]interface{}),
	}
}

// NewRequestEvent creates an event carrying the HTTP request context
func NewRequestEvent(r *http.Request, eventType EventType, status EventStatus) *Event {
	event := NewEvent(eventType, status)
	if r != nil {
		event.IPAddress = clientIP(r)
		event.UserAgent = r.UserAgent()
		event.Method = r.Method
		event.Path = r.URL.Path
		event.RequestID = r.Header.Get("X-Request-Id")
	}
	return event
}

// clientIP extracts the client IP from the request, preferring the
// proxy-forwarded headers the bridge always sits behind.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// LogSuccess records a successful event through the context logger
func LogSuccess(ctx context.Context, eventType EventType, message string) error {
	event := NewEvent(eventType, StatusSuccess)
	event.Message = message
	return FromContext(ctx).Log(ctx, event)
}

// LogFailure records a failed event with its error through the context
// logger
func LogFailure(ctx context.Context, eventType EventType, message string, err error) error {
	event := NewEvent(eventType, StatusFailure)
	event.Message = message
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	return FromContext(ctx).Log(ctx, event)
}
