package api

import (
	"net/http"

	"ocr-labeler/internal/app"
	"ocr-labeler/internal/dataset"
	"ocr-labeler/internal/version"
)

type statusResponse struct {
	app.Snapshot
	Version version.Info `json:"version"`
}

type attemptResponse struct {
	Attempt  string   `json:"attempt"`
	Attempts []string `json:"attempts"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, statusResponse{Snapshot: s.engine.Snapshot(), Version: version.Get()})
}

func (s *Server) addAttempt(w http.ResponseWriter, r *http.Request) {
	text, err := s.engine.AddAttempt()
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, attemptResponse{Attempt: text, Attempts: s.engine.Snapshot().Attempts})
}

func (s *Server) discardBuffer(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]bool{"cleared": s.engine.DiscardBuffer()})
}

func (s *Server) saveBuffer(w http.ResponseWriter, r *http.Request) {
	path, err := s.engine.SaveBufferText()
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) finalize(w http.ResponseWriter, r *http.Request) {
	var meta dataset.Metadata
	if err := decode(w, r, &meta); err != nil {
		respondError(w, r, err)
		return
	}
	rec, err := s.engine.Finalize(r.Context(), meta)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, rec)
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	recs, err := s.engine.Records(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if recs == nil {
		recs = []dataset.ItemRecord{}
	}
	respond(w, r, http.StatusOK, recs)
}

func (s *Server) storageRecommendations(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, dataset.StorageRecommendations)
}
