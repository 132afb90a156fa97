package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"storyreel/internal/logging"
)

func (s *Server) handleListStoryboards(w http.ResponseWriter, r *http.Request) {
	boards, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("list storyboards", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "list storyboards failed")
		return
	}
	s.writeJSON(w, http.StatusOK, StoryboardListResponse{Storyboards: boards})
}

func (s *Server) handleGetStoryboard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["storyboardID"]
	sb, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("get storyboard",
			logging.String(logging.FieldStoryboardID, id),
			logging.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "read storyboard failed")
		return
	}
	if sb == nil {
		s.writeError(w, http.StatusNotFound, "storyboard not found")
		return
	}
	s.writeJSON(w, http.StatusOK, sb)
}

func (s *Server) handleDeleteStoryboard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["storyboardID"]
	if _, ok := s.sessions.ActiveForStoryboard(id); ok {
		s.writeError(w, http.StatusConflict, "storyboard has an active generation session")
		return
	}
	existed, err := s.store.Delete(r.Context(), id)
	if err != nil {
		s.logger.Error("delete storyboard",
			logging.String(logging.FieldStoryboardID, id),
			logging.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "delete storyboard failed")
		return
	}
	if !existed {
		s.writeError(w, http.StatusNotFound, "storyboard not found")
		return
	}
	s.logger.Info("storyboard deleted", logging.String(logging.FieldStoryboardID, id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["assetID"]
	asset, err := s.assets.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("get asset", logging.String("asset_id", id), logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "read asset failed")
		return
	}
	if asset == nil {
		s.writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	s.writeJSON(w, http.StatusOK, AssetResponse{
		ID:        asset.ID,
		Content:   asset.Content,
		Caption:   asset.CurrentCaption(),
		CreatedAt: asset.CreatedAt,
		UpdatedAt: asset.UpdatedAt,
	})
}
