package session

import (
	"sort"
	"sync"
	"time"

	"storyreel/internal/storyboard"
)

// EventType discriminates progress events.
type EventType string

const (
	EventSnapshot       EventType = "snapshot"
	EventSceneCompleted EventType = "scene_completed"
	EventSceneFailed    EventType = "scene_failed"
	EventFinished       EventType = "finished"
)

// Event is one progress update delivered to subscribers. Completion events
// carry the freshly persisted clip, and every event carries the failures
// recorded so far, so a watcher never has to refetch the storyboard to
// render progress.
type Event struct {
	Type            EventType         `json:"type"`
	SessionID       string            `json:"sessionId"`
	StoryboardID    string            `json:"storyboardId"`
	SceneIndex      *int              `json:"sceneIndex,omitempty"`
	NewClip         *storyboard.Clip  `json:"newClip,omitempty"`
	CompletedScenes int               `json:"completedScenes"`
	TotalScenes     int               `json:"totalScenes"`
	Status          storyboard.Status `json:"status,omitempty"`
	Message         string            `json:"message,omitempty"`
	Errors          []SceneFailure    `json:"errors,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// SceneFailure records one scene-local failure within a run.
type SceneFailure struct {
	SceneIndex int       `json:"sceneIndex"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Session is the volatile state of one generation run. Progress is tracked
// as the set of completed scene orders, so out-of-order completion never
// corrupts the count.
type Session struct {
	ID           string
	StoryboardID string

	mu          sync.Mutex
	totalScenes int
	completed   map[int]struct{}
	failures    []SceneFailure
	status      storyboard.Status
	finished    bool
	subscribers map[chan Event]struct{}
}

func newSession(id, storyboardID string, totalScenes int) *Session {
	return &Session{
		ID:           id,
		StoryboardID: storyboardID,
		totalScenes:  totalScenes,
		completed:    make(map[int]struct{}),
		status:       storyboard.StatusGenerating,
		subscribers:  make(map[chan Event]struct{}),
	}
}

// Snapshot returns the current progress view.
func (s *Session) Snapshot() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Event {
	return Event{
		Type:            EventSnapshot,
		SessionID:       s.ID,
		StoryboardID:    s.StoryboardID,
		CompletedScenes: len(s.completed),
		TotalScenes:     s.totalScenes,
		Status:          s.status,
		Errors:          s.failuresLocked(),
		Timestamp:       time.Now().UTC(),
	}
}

func (s *Session) failuresLocked() []SceneFailure {
	if len(s.failures) == 0 {
		return nil
	}
	out := make([]SceneFailure, len(s.failures))
	copy(out, s.failures)
	sort.Slice(out, func(i, j int) bool { return out[i].SceneIndex < out[j].SceneIndex })
	return out
}

// CompletedScenes returns how many distinct scenes have completed.
func (s *Session) CompletedScenes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed)
}

// Failures returns a copy of the recorded scene failures, ordered by scene.
func (s *Session) Failures() []SceneFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failuresLocked()
}

// Finished reports whether the run has reached a terminal state.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// ReportSceneComplete marks one scene finished and notifies subscribers,
// attaching the persisted clip when the caller has one. Reporting the same
// scene twice is harmless.
func (s *Session) ReportSceneComplete(sceneIndex int, clip *storyboard.Clip) {
	s.mu.Lock()
	s.completed[sceneIndex] = struct{}{}
	idx := sceneIndex
	event := Event{
		Type:            EventSceneCompleted,
		SessionID:       s.ID,
		StoryboardID:    s.StoryboardID,
		SceneIndex:      &idx,
		NewClip:         clip,
		CompletedScenes: len(s.completed),
		TotalScenes:     s.totalScenes,
		Status:          s.status,
		Errors:          s.failuresLocked(),
		Timestamp:       time.Now().UTC(),
	}
	s.broadcastLocked(event)
	s.mu.Unlock()
}

// ReportSceneFailed records a scene-local failure and notifies subscribers.
func (s *Session) ReportSceneFailed(sceneIndex int, message string) {
	s.mu.Lock()
	idx := sceneIndex
	s.failures = append(s.failures, SceneFailure{
		SceneIndex: sceneIndex,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	})
	event := Event{
		Type:            EventSceneFailed,
		SessionID:       s.ID,
		StoryboardID:    s.StoryboardID,
		SceneIndex:      &idx,
		CompletedScenes: len(s.completed),
		TotalScenes:     s.totalScenes,
		Status:          s.status,
		Message:         message,
		Errors:          s.failuresLocked(),
		Timestamp:       time.Now().UTC(),
	}
	s.broadcastLocked(event)
	s.mu.Unlock()
}

// Finish marks the run terminal, publishes the final status, and closes
// every subscriber channel. Calling Finish twice is harmless.
func (s *Session) Finish(status storyboard.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.status = status
	event := Event{
		Type:            EventFinished,
		SessionID:       s.ID,
		StoryboardID:    s.StoryboardID,
		CompletedScenes: len(s.completed),
		TotalScenes:     s.totalScenes,
		Status:          status,
		Errors:          s.failuresLocked(),
		Timestamp:       time.Now().UTC(),
	}
	s.broadcastLocked(event)
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan Event]struct{})
}

// Subscribe registers a progress watcher. The channel's first event is a
// snapshot of current progress, so late subscribers never miss state. The
// returned cancel func must be called when the watcher stops reading; after
// the session finishes the channel is closed.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	s.mu.Lock()
	snapshot := s.snapshotLocked()
	ch <- snapshot
	if s.finished {
		close(ch)
		s.mu.Unlock()
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// broadcastLocked delivers without blocking; a subscriber that cannot keep
// up loses intermediate events but will see the final snapshot.
func (s *Session) broadcastLocked(event Event) {
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
