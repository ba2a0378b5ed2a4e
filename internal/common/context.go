package common

import (
	"context"
	"log/slog"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyArtifact  contextKey = "artifact"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithArtifact adds the artifact name being handled to the context
func WithArtifact(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ContextKeyArtifact, name)
}

// ArtifactFromContext extracts the artifact name from context
func ArtifactFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(ContextKeyArtifact).(string); ok {
		return name
	}
	return ""
}

// LoggerFrom decorates base with the request and artifact carried by ctx.
func LoggerFrom(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		base = base.With("request_id", id)
	}
	if name := ArtifactFromContext(ctx); name != "" {
		base = base.With("artifact", name)
	}
	return base
}
