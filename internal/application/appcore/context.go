package appcore

import (
	"context"
	"errors"

	"github.com/lllypuk/actuality/internal/domain/event"
)

// Context keys
type contextKey string

const (
	userIDKey        contextKey = "userID"
	correlationIDKey contextKey = "correlationID"
	causationIDKey   contextKey = "causationID"
	traceIDKey       contextKey = "traceID"
)

var (
	ErrUserIDNotFound        = errors.New("user ID not found in context")
	ErrCorrelationIDNotFound = errors.New("correlation ID not found in context")
)

// GetUserID extracts the user ID from the context
func GetUserID(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDKey).(string)
	if !ok || userID == "" {
		return "", ErrUserIDNotFound
	}
	return userID, nil
}

// WithUserID adds the user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetCorrelationID extracts the correlation ID from the context
func GetCorrelationID(ctx context.Context) (string, error) {
	correlationID, ok := ctx.Value(correlationIDKey).(string)
	if !ok || correlationID == "" {
		return "", ErrCorrelationIDNotFound
	}
	return correlationID, nil
}

// WithCorrelationID adds the correlation ID to the context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// GetCausationID extracts the causation ID from the context, empty if absent
func GetCausationID(ctx context.Context) string {
	causationID, _ := ctx.Value(causationIDKey).(string)
	return causationID
}

// WithCausationID adds the causation ID to the context
func WithCausationID(ctx context.Context, causationID string) context.Context {
	return context.WithValue(ctx, causationIDKey, causationID)
}

// GetTraceID extracts the trace ID from the context (for distributed tracing)
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// WithTraceID adds the trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// MetadataFromContext collects the request identifiers stored in ctx as event metadata.
// Keys without a value are omitted, so an empty context yields an empty map.
func MetadataFromContext(ctx context.Context) event.Metadata {
	m := event.Metadata{}
	if userID, err := GetUserID(ctx); err == nil {
		m[event.MetadataUserID] = userID
	}
	if correlationID, err := GetCorrelationID(ctx); err == nil {
		m[event.MetadataCorrelationID] = correlationID
	}
	if causationID := GetCausationID(ctx); causationID != "" {
		m[event.MetadataCausationID] = causationID
	}
	return m
}

// MergeMetadata returns ctx metadata overlaid with explicit values. Explicit keys win.
func MergeMetadata(ctx context.Context, explicit map[string]string) map[string]string {
	merged := MetadataFromContext(ctx)
	for k, v := range explicit {
		merged[k] = v
	}
	return merged
}
