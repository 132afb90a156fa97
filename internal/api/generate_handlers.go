package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"storyreel/internal/generator"
	"storyreel/internal/logging"
	"storyreel/internal/services"
	"storyreel/internal/session"
	"storyreel/internal/storyboard"
)

func providerFromName(name string) generator.Provider {
	provider, err := generator.ParseProvider(name)
	if err != nil {
		return generator.Provider(strings.ToLower(strings.TrimSpace(name)))
	}
	return provider
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		s.writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	providerName := strings.TrimSpace(req.Provider)
	if providerName == "" {
		providerName = s.cfg.Generation.DefaultProvider
	}
	provider, err := generator.ParseProvider(providerName)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sceneCount := req.SceneCount
	if sceneCount <= 0 {
		sceneCount = s.cfg.Generation.MinScenes
	}
	if sceneCount < s.cfg.Generation.MinScenes || sceneCount > s.cfg.Generation.MaxScenes {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf(
			"sceneCount must be between %d and %d",
			s.cfg.Generation.MinScenes, s.cfg.Generation.MaxScenes,
		))
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = storyboard.DeriveName(req.Prompt)
	}
	scenes := storyboard.BuildPlan(req.Prompt, sceneCount, s.cfg.Generation.SceneDurationSeconds)
	sb := storyboard.NewFromPlan(name, req.Prompt, provider.String(), scenes)
	if err := s.store.Save(r.Context(), sb); err != nil {
		s.logger.Error("save new storyboard", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "persist storyboard failed")
		return
	}

	sess := s.sessions.Create(sb.ID, len(scenes))
	s.logger.Info("session initialized",
		logging.String(logging.FieldStoryboardID, sb.ID),
		logging.String(logging.FieldSessionID, sess.ID),
		logging.String(logging.FieldProvider, provider.String()),
		logging.Int("scene_count", sceneCount),
	)
	s.writeJSON(w, http.StatusCreated, InitializeResponse{
		SessionID:  sess.ID,
		Storyboard: sb,
	})
}

// handleStart runs the generation batch for a session and responds when it
// settles.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if sess.Finished() {
		s.writeError(w, http.StatusConflict, "session already finished")
		return
	}

	// The run outlives the request: a client disconnect must not cancel
	// in-flight scene tasks, so the daemon context drives the run.
	runCtx := s.baseCtx
	if requestID, ok := services.RequestIDFromContext(r.Context()); ok {
		runCtx = services.WithRequestID(runCtx, requestID)
	}
	if err := s.runner.RunGeneration(runCtx, sess.StoryboardID, sess); err != nil {
		s.logger.Error("generation run failed",
			logging.String(logging.FieldSessionID, sess.ID),
			logging.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	snapshot := sess.Snapshot()
	s.writeJSON(w, http.StatusOK, StartResponse{
		SessionID:       sess.ID,
		Status:          snapshot.Status,
		CompletedScenes: snapshot.CompletedScenes,
		TotalScenes:     snapshot.TotalScenes,
		Errors:          sess.Failures(),
	})
}

// handleProgress streams session progress as server-sent events. The first
// event is always the current snapshot.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events, cancel := sess.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event session.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}

// handleDeleteSession tears a session down: subscribers see a final event
// and the session leaves the table. The storyboard record is untouched.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	if err := s.sessions.Remove(sessionID); err != nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.logger.Info("session removed", logging.String(logging.FieldSessionID, sessionID))
	w.WriteHeader(http.StatusNoContent)
}
