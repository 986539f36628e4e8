package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/klucsik/rpg-music-sub000/fetch"
)

// mountLibrary registers the track, folder, collection, scan and download
// routes on the shared router.
func (s *HTTPServer) mountLibrary(r chi.Router) {
	r.Get("/api/tracks", s.handleTracks)
	r.Get("/api/tracks/{id}", s.handleTrack)
	r.Delete("/api/tracks/{id}", s.handleDeleteTrack)
	r.Get("/api/folders", s.handleFolders)
	r.Post("/api/library/scan", s.handleScan)
	r.Get("/api/library/status", s.handleScanStatus)

	r.Get("/api/collections", s.handleCollections)
	r.Post("/api/collections", s.handleCreateCollection)
	r.Route("/api/collections/{id}", func(r chi.Router) {
		r.Get("/", s.handleCollection)
		r.Patch("/", s.handleUpdateCollection)
		r.Delete("/", s.handleDeleteCollection)
		r.Post("/tracks", s.handleCollectionAdd)
		r.Delete("/tracks/{trackId}", s.handleCollectionRemove)
	})

	r.Get("/api/downloads", s.handleDownloads)
	r.Post("/api/downloads", s.handleEnqueueDownload)
}

func (s *HTTPServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.store.Tracks(r.URL.Query().Get("folder"), r.URL.Query().Get("q"))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tracks": tracks})
}

func (s *HTTPServer) handleTrack(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.Track(chi.URLParam(r, "id"))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// handleDeleteTrack removes a track from the database only; the audio file
// stays on disk. Collections referencing it are pruned and their rooms told
// to re-fetch.
func (s *HTTPServer) handleDeleteTrack(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	affected, err := s.store.DeleteTrack(id)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	for _, collID := range affected {
		s.engine.NotifyCollectionChanged(collID)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": id, "collections": affected})
}

func (s *HTTPServer) handleFolders(w http.ResponseWriter, _ *http.Request) {
	folders, err := s.store.Folders()
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"folders": folders})
}

func (s *HTTPServer) handleScan(w http.ResponseWriter, _ *http.Request) {
	s.scanner.Request()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *HTTPServer) handleScanStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.scanner.Status())
}

func (s *HTTPServer) handleCollections(w http.ResponseWriter, _ *http.Request) {
	colls, err := s.store.Collections()
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"collections": colls})
}

func (s *HTTPServer) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("decode body: %w", err))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "bad_request", errors.New("name required"))
		return
	}
	coll, err := s.store.CreateCollection(req.Name)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, coll)
}

func (s *HTTPServer) handleCollection(w http.ResponseWriter, r *http.Request) {
	coll, err := s.store.Collection(chi.URLParam(r, "id"))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, coll)
}

func (s *HTTPServer) handleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     *string  `json:"name"`
		TrackIDs []string `json:"trackIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("decode body: %w", err))
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		respondError(w, http.StatusBadRequest, "bad_request", errors.New("name must not be blank"))
		return
	}
	id := chi.URLParam(r, "id")
	coll, err := s.store.UpdateCollection(id, req.Name, req.TrackIDs)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	if req.TrackIDs != nil {
		s.engine.NotifyCollectionChanged(id)
	}
	respondJSON(w, http.StatusOK, coll)
}

func (s *HTTPServer) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteCollection(id); err != nil {
		respondCommandError(w, err)
		return
	}
	s.engine.NotifyCollectionChanged(id)
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *HTTPServer) handleCollectionAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackID string `json:"trackId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("decode body: %w", err))
		return
	}
	if req.TrackID == "" {
		respondError(w, http.StatusBadRequest, "bad_request", errors.New("trackId required"))
		return
	}
	id := chi.URLParam(r, "id")
	coll, err := s.store.AddToCollection(id, req.TrackID)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	s.engine.NotifyCollectionChanged(id)
	respondJSON(w, http.StatusOK, coll)
}

func (s *HTTPServer) handleCollectionRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	coll, err := s.store.RemoveFromCollection(id, chi.URLParam(r, "trackId"))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	s.engine.NotifyCollectionChanged(id)
	respondJSON(w, http.StatusOK, coll)
}

func (s *HTTPServer) handleDownloads(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": s.queue.Jobs()})
}

func (s *HTTPServer) handleEnqueueDownload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL          string `json:"url"`
		CollectionID string `json:"collectionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("decode body: %w", err))
		return
	}
	job, err := s.queue.Enqueue(req.URL, req.CollectionID)
	if err != nil {
		if errors.Is(err, fetch.ErrQueueFull) {
			respondError(w, http.StatusServiceUnavailable, "queue_full", err)
			return
		}
		respondError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}
