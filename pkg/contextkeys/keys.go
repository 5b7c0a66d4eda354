// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains permissions.Principal
	// Set by: the surrounding platform's auth layer
	// Required by: snapshot middleware, all permission-checked endpoints
	PrincipalKey Key = "principal"

	// SnapshotKey contains *permissions.Snapshot
	// Set by: permissions.SnapshotMiddleware, once per request
	// Required by: handlers performing permission checks
	SnapshotKey Key = "permission_snapshot"

	// RequestIDKey contains request ID string (UUID)
	// Set by: HTTP middleware
	// Used by: Logger, distributed tracing
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: HTTP middleware
	// Used by: handlers that need request-scoped structured logging
	LoggerKey Key = "logger"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithSnapshot adds a permission snapshot to the context
func WithSnapshot(ctx context.Context, snapshot interface{}) context.Context {
	return context.WithValue(ctx, SnapshotKey, snapshot)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
