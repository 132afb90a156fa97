package api

import (
	"time"

	"storyreel/internal/session"
	"storyreel/internal/storyboard"
)

// InitializeRequest starts a new storyboard and session from a movie
// concept.
type InitializeRequest struct {
	Prompt     string `json:"prompt"`
	Provider   string `json:"provider,omitempty"`
	SceneCount int    `json:"sceneCount"`
	Name       string `json:"name,omitempty"`
}

// InitializeResponse returns the created session and its storyboard.
type InitializeResponse struct {
	SessionID  string                 `json:"sessionId"`
	Storyboard *storyboard.Storyboard `json:"storyboard"`
}

// StartResponse reports the settled outcome of a generation run.
type StartResponse struct {
	SessionID       string                 `json:"sessionId"`
	Status          storyboard.Status      `json:"status"`
	CompletedScenes int                    `json:"completedScenes"`
	TotalScenes     int                    `json:"totalScenes"`
	Errors          []session.SceneFailure `json:"errors,omitempty"`
}

// StoryboardListResponse wraps the storyboard listing.
type StoryboardListResponse struct {
	Storyboards []*storyboard.Storyboard `json:"storyboards"`
}

// AssetResponse returns one stored artifact.
type AssetResponse struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Caption   string    `json:"caption,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProviderStatus is one provider's rate-limit view in the status payload.
type ProviderStatus struct {
	Provider        string  `json:"provider"`
	Tokens          float64 `json:"tokens"`
	Capacity        float64 `json:"capacity,omitempty"`
	CurrentRequests int     `json:"currentRequests"`
	MaxConcurrent   int     `json:"maxConcurrent"`
}

// DaemonStatus is the status endpoint payload.
type DaemonStatus struct {
	Running         bool             `json:"running"`
	PID             int              `json:"pid"`
	StartedAt       time.Time        `json:"startedAt"`
	StoryboardDir   string           `json:"storyboardDir"`
	AssetDBPath     string           `json:"assetDbPath"`
	ActiveSessions  int              `json:"activeSessions"`
	Providers       []ProviderStatus `json:"providers,omitempty"`
	AssetDBHealthy  bool             `json:"assetDbHealthy"`
	AssetDBProblems string           `json:"assetDbProblems,omitempty"`
}
