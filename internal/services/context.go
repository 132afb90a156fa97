package services

import "context"

type contextKey string

const (
	storyboardIDKey contextKey = "storyboard_id"
	sessionIDKey    contextKey = "session_id"
	sceneIndexKey   contextKey = "scene_index"
	requestIDKey    contextKey = "request_id"
)

// WithStoryboardID annotates context with the storyboard identifier.
func WithStoryboardID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, storyboardIDKey, id)
}

// StoryboardIDFromContext extracts the storyboard identifier if present.
func StoryboardIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(storyboardIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithSessionID annotates context with the generation session identifier.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session identifier if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(sessionIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithSceneIndex annotates context with the zero-based scene index.
func WithSceneIndex(ctx context.Context, index int) context.Context {
	if index < 0 {
		return ctx
	}
	return context.WithValue(ctx, sceneIndexKey, index)
}

// SceneIndexFromContext extracts the scene index if present.
func SceneIndexFromContext(ctx context.Context) (int, bool) {
	v := ctx.Value(sceneIndexKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	default:
		return 0, false
	}
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
