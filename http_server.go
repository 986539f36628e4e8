package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/klucsik/rpg-music-sub000/fetch"
	"github.com/klucsik/rpg-music-sub000/library"
	"github.com/klucsik/rpg-music-sub000/playback"
)

// HTTPServer wires the REST control surface and the websocket gateway.
type HTTPServer struct {
	engine   *playback.Engine
	store    *library.Store
	scanner  *library.Scanner
	queue    *fetch.Queue
	upgrader websocket.Upgrader
}

// NewHTTPServer constructs an HTTPServer with sane defaults.
func NewHTTPServer(engine *playback.Engine, store *library.Store, scanner *library.Scanner, queue *fetch.Queue) *HTTPServer {
	return &HTTPServer{
		engine:  engine,
		store:   store,
		scanner: scanner,
		queue:   queue,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP mux: health, clock, websocket gateway, room control
// and the library API.
func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/time", s.handleTime)
	r.Get("/ws", s.handleWebSocket)

	r.Get("/api/rooms", s.handleRooms)
	r.Route("/api/rooms/{room}", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/play", s.handlePlay)
		r.Post("/pause", s.handlePause)
		r.Post("/resume", s.handleResume)
		r.Post("/stop", s.handleStop)
		r.Post("/seek", s.handleSeek)
		r.Post("/volume", s.handleVolume)
		r.Post("/repeat", s.handleRepeat)
		r.Post("/loop", s.handleLoop)
		r.Post("/loop-points", s.handleLoopPoints)
		r.Delete("/loop-points", s.handleClearLoopPoints)
		r.Post("/next", s.handleNext)
		r.Post("/previous", s.handlePrevious)
	})

	s.mountLibrary(r)
	return r
}

func (s *HTTPServer) handleTime(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]int64{"serverTime": playback.ServerTime()})
}

func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	name := r.URL.Query().Get("name")
	if roomID == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	if name == "" {
		name = "listener"
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("upgrade websocket")
		return
	}

	client := NewClient(name, conn, s.engine)
	s.engine.Attach(roomID, client)
	log.Info().Str("room", roomID).Str("listener", name).Msg("[server] listener connected")

	go client.writeLoop()
	client.readLoop()
}

func (s *HTTPServer) handleRooms(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"rooms": s.engine.Rooms()})
}

func (s *HTTPServer) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.State(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackID      string  `json:"trackId"`
		Position     float64 `json:"position"`
		CollectionID string  `json:"collectionId"`
		Index        int     `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("decode body: %w", err))
		return
	}
	snap, err := s.engine.PlayTrack(r.Context(), chi.URLParam(r, "room"), req.TrackID, req.Position, req.CollectionID, req.Index)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handlePause(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Pause(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleResume(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Resume(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Stop(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position *float64 `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("decode body: %w", err))
		return
	}
	if req.Position == nil {
		respondError(w, http.StatusBadRequest, "bad_request", errors.New("position required"))
		return
	}
	snap, err := s.engine.Seek(r.Context(), chi.URLParam(r, "room"), *req.Position)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume *float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("decode body: %w", err))
		return
	}
	if req.Volume == nil {
		respondError(w, http.StatusBadRequest, "bad_request", errors.New("volume required"))
		return
	}
	snap, err := s.engine.SetVolume(r.Context(), chi.URLParam(r, "room"), *req.Volume)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleRepeat(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.ToggleRepeat(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleLoop(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.ToggleLoop(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleLoopPoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Start *float64 `json:"start"`
		End   *float64 `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("decode body: %w", err))
		return
	}
	if req.Start == nil || req.End == nil {
		respondError(w, http.StatusBadRequest, "bad_request", errors.New("start and end required"))
		return
	}
	snap, err := s.engine.SetLoopPoints(r.Context(), chi.URLParam(r, "room"), *req.Start, *req.End)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleClearLoopPoints(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.ClearLoopPoints(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleNext(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.PlayNext(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handlePrevious(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.PlayPrevious(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode json response")
	}
}

func respondError(w http.ResponseWriter, status int, code string, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]string{"error": code, "message": err.Error()})
}

func respondCommandError(w http.ResponseWriter, err error) {
	status, code := commandStatus(err)
	respondError(w, status, code, err)
}

// commandStatus maps engine and store errors to HTTP statuses: validation
// failures are 400, unknown ids 404, commands invalid in the current state
// 409, anything else 500.
func commandStatus(err error) (int, string) {
	switch {
	case errors.Is(err, playback.ErrInvalidTrack):
		return http.StatusBadRequest, "invalid_track"
	case errors.Is(err, playback.ErrInvalidVolume):
		return http.StatusBadRequest, "invalid_volume"
	case errors.Is(err, playback.ErrInvalidLoopRange):
		return http.StatusBadRequest, "invalid_loop_range"
	case errors.Is(err, playback.ErrNothingToResume):
		return http.StatusConflict, "nothing_to_resume"
	case errors.Is(err, playback.ErrNoAdjacentTrack):
		return http.StatusConflict, "no_adjacent_track"
	case errors.Is(err, library.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
