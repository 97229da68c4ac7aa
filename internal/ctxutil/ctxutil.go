// Package ctxutil provides shared context key accessors.
//
// This package exists to break the circular dependency between server and
// mcp: the server's auth middleware populates the actor, and MCP tool
// handlers (mounted under the same middleware) need to read it back. Both
// packages import ctxutil instead of each other.
package ctxutil

import "context"

type contextKey string

const (
	keyActor     contextKey = "actor"
	keyRequestID contextKey = "request_id"
)

// WithActor returns a new context carrying the authenticated actor name.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, keyActor, actor)
}

// ActorFromContext extracts the actor from the context, or "" if absent.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyActor).(string); ok {
		return v
	}
	return ""
}

// WithRequestID returns a new context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request ID from the context, or "".
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}
