package logging

import (
	"context"
	"log/slog"

	"storyreel/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldStoryboardID is the standardized structured logging key for storyboard identifiers.
	FieldStoryboardID = "storyboard_id"
	// FieldSessionID is the standardized structured logging key for generation session identifiers.
	FieldSessionID = "session_id"
	// FieldSceneIndex is the standardized structured logging key for zero-based scene indices.
	FieldSceneIndex = "scene_index"
	// FieldProvider is the standardized structured logging key for provider names.
	FieldProvider = "provider"
	// FieldEventType is the standardized structured logging key for machine-readable event tags.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized structured logging key for operator next steps.
	FieldErrorHint = "error_hint"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.StoryboardIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStoryboardID, id))
	}
	if id, ok := services.SessionIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if index, ok := services.SceneIndexFromContext(ctx); ok {
		fields = append(fields, slog.Int(FieldSceneIndex, index))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from
// the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
