package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds session-scoped logging context.
//
// A LogContext is created when a control connection is accepted and travels
// with the session's context so that every log line carries the session id,
// the client address and, once known, the authenticated user and the command
// currently being processed.
type LogContext struct {
	SessionID string    // Opaque session identifier
	ClientIP  string    // Client IP address (without port)
	User      string    // Authenticated (or pending) username
	Command   string    // FTP verb being processed (USER, RETR, LIST, ...)
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a freshly accepted session
func NewLogContext(sessionID, clientIP string) *LogContext {
	return &LogContext{
		SessionID: sessionID,
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		SessionID: lc.SessionID,
		ClientIP:  lc.ClientIP,
		User:      lc.User,
		Command:   lc.Command,
		StartTime: lc.StartTime,
	}
}
