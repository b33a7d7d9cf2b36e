// Package shared holds the context-carried identifiers that correlate log
// lines across one connection's lifetime.
package shared

import (
	"context"

	"github.com/google/uuid"
)

type connIDKey struct{}
type sessionIDKey struct{}

// WithConnID attaches a connection id to the context.
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connIDKey{}, connID)
}

// ConnID extracts the connection id from context. Returns "-" if absent.
func ConnID(ctx context.Context) string {
	if v, ok := ctx.Value(connIDKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewConnID generates a new connection id.
func NewConnID() string {
	return uuid.NewString()
}

// WithSessionID attaches a session id to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionID extracts the session id from context. Returns "" if absent.
func SessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return v
	}
	return ""
}

// NewSessionID generates a new session id.
func NewSessionID() string {
	return uuid.NewString()
}
