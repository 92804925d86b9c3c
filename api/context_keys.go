package api

import "context"

// contextKey is private so other packages cannot forge request identity.
type contextKey string

const (
	// ContextKeyUsername stores the authenticated username (string)
	ContextKeyUsername contextKey = "username"

	// ContextKeyRequestID stores the request correlation ID (string)
	ContextKeyRequestID contextKey = "request_id"
)

// WithUsername returns a context carrying the authenticated username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ContextKeyUsername, username)
}

// GetUsername extracts the username from the context.
func GetUsername(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(ContextKeyUsername).(string)
	return username, ok
}

// WithRequestID returns a context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextKeyRequestID).(string)
	return id, ok
}
