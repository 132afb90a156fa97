package storyboard

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the generation lifecycle of a storyboard.
type Status string

const (
	StatusPending             Status = "pending"
	StatusGenerating          Status = "generating"
	StatusPausedRateLimited   Status = "paused_rate_limited"
	StatusPausedError         Status = "paused_error"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusGenerating,
	StatusPausedRateLimited,
	StatusPausedError,
	StatusCompleted,
	StatusCompletedWithErrors,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsPaused reports whether a status marks the storyboard as resumable.
func (s Status) IsPaused() bool {
	return s == StatusPausedRateLimited || s == StatusPausedError
}

// IsTerminal reports whether a status ends the generation lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed:
		return true
	default:
		return false
	}
}

// Scene is one planned unit of the movie with its own generation prompt.
type Scene struct {
	ID                    string  `json:"id"`
	Description           string  `json:"description"`
	Prompt                string  `json:"prompt"`
	TargetDurationSeconds float64 `json:"target_duration_seconds"`
}

// Clip references a successfully generated scene artifact. The generated
// content itself lives in the asset store; only the AssetID travels here.
type Clip struct {
	ID              string  `json:"id"`
	Order           int     `json:"order"`
	Name            string  `json:"name"`
	Prompt          string  `json:"prompt"`
	DurationSeconds float64 `json:"duration_seconds"`
	AssetID         string  `json:"asset_id,omitempty"`
	Provider        string  `json:"provider,omitempty"`
}

// GenerationStatus tracks durable progress of one generation job.
type GenerationStatus struct {
	Status            Status     `json:"status"`
	CompletedScenes   int        `json:"completed_scenes"`
	TotalScenes       int        `json:"total_scenes"`
	CurrentSceneIndex int        `json:"current_scene_index"`
	ActiveSessionID   string     `json:"active_session_id,omitempty"`
	StartedAt         time.Time  `json:"started_at,omitzero"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	PausedReason      string     `json:"paused_reason,omitempty"`
	PausedAt          *time.Time `json:"paused_at,omitempty"`
	PausedSceneIndex  *int       `json:"paused_scene_index,omitempty"`
	RecoveredAt       *time.Time `json:"recovered_at,omitempty"`
}

// Storyboard is the durable record of one movie generation job.
type Storyboard struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	Provider       string           `json:"provider"`
	OriginalScenes []Scene          `json:"original_scenes"`
	Clips          []Clip           `json:"clips"`
	Generation     GenerationStatus `json:"generation_status"`
	Diagnostics    []string         `json:"diagnostics,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// NewFromPlan builds a pending storyboard from an ordered scene plan.
func NewFromPlan(name, description, provider string, scenes []Scene) *Storyboard {
	now := time.Now().UTC()
	plan := make([]Scene, len(scenes))
	copy(plan, scenes)
	for i := range plan {
		if strings.TrimSpace(plan[i].ID) == "" {
			plan[i].ID = uuid.NewString()
		}
	}
	return &Storyboard{
		ID:             uuid.NewString(),
		Name:           name,
		Description:    description,
		Provider:       provider,
		OriginalScenes: plan,
		Generation: GenerationStatus{
			Status:      StatusPending,
			TotalScenes: len(plan),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MergeClip inserts or replaces the clip occupying the same order. Clips are
// deduplicated by order, never by arrival time.
func (s *Storyboard) MergeClip(clip Clip) {
	for i := range s.Clips {
		if s.Clips[i].Order == clip.Order {
			s.Clips[i] = clip
			return
		}
	}
	s.Clips = append(s.Clips, clip)
}

// SortClipsByOrder reorders the clip slice by its logical order field.
func (s *Storyboard) SortClipsByOrder() {
	sortClips(s.Clips)
}

func sortClips(clips []Clip) {
	for i := 1; i < len(clips); i++ {
		for j := i; j > 0 && clips[j].Order < clips[j-1].Order; j-- {
			clips[j], clips[j-1] = clips[j-1], clips[j]
		}
	}
}

// CompletedOrders returns the set of scene indices that already have a clip.
func (s *Storyboard) CompletedOrders() map[int]struct{} {
	orders := make(map[int]struct{}, len(s.Clips))
	for _, clip := range s.Clips {
		orders[clip.Order] = struct{}{}
	}
	return orders
}

// ResumePoint returns the smallest scene index without a persisted clip.
// Recovery derives the resume position purely from the clips set; the
// recorded pause indices are observability metadata only.
func (s *Storyboard) ResumePoint() int {
	completed := s.CompletedOrders()
	for i := range s.OriginalScenes {
		if _, ok := completed[i]; !ok {
			return i
		}
	}
	return len(s.OriginalScenes)
}

// NeedsRecovery reports whether a storyboard is stuck mid-generation: any
// paused state, or a generating state with unfinished scenes and no terminal
// status written (a crash-interrupted run).
func (s *Storyboard) NeedsRecovery() bool {
	status := s.Generation.Status
	if status.IsPaused() {
		return true
	}
	return status == StatusGenerating && len(s.Clips) < len(s.OriginalScenes)
}

// AddDiagnostic records a non-blocking integrity warning on the record.
func (s *Storyboard) AddDiagnostic(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	s.Diagnostics = append(s.Diagnostics, message)
}
