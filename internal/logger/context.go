package logger

import "context"

type contextKey int

const (
	requestIDKey contextKey = iota
	tenantKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithTenant tags the context with the normalized username being operated on.
func WithTenant(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, tenantKey, username)
}

// Tenant returns the username set by WithTenant, or "".
func Tenant(ctx context.Context) string {
	u, _ := ctx.Value(tenantKey).(string)
	return u
}
