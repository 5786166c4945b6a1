// Package httpapi exposes the UI boundary: session commands and observable
// state over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"live-caption-engine/internal/models"
	"live-caption-engine/internal/session"
	"live-caption-engine/internal/token"
)

// Server bundles the handlers' dependencies.
type Server struct {
	ctrl   *session.Controller
	tokens token.Provider
}

// statusResponse is the combined observable state returned by GET /v1/session.
type statusResponse struct {
	Session models.SessionSnapshot  `json:"session"`
	Level   models.AudioLevelSample `json:"level"`
}

// transcriptResponse carries the ordered transcript and the current interim.
type transcriptResponse struct {
	Segments []models.TranscriptSegment `json:"segments"`
	Interim  models.InterimResult       `json:"interim"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter constructs the HTTP router for the engine.
func NewRouter(ctrl *session.Controller, tokens token.Provider) http.Handler {
	s := &Server{ctrl: ctrl, tokens: tokens}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/session/start", s.handleStart)
		r.Post("/session/pause", s.handlePause)
		r.Post("/session/resume", s.handleResume)
		r.Post("/session/stop", s.handleStop)
		r.Get("/session", s.handleStatus)
		r.Get("/session/transcript", s.handleTranscript)
		r.Get("/token", s.handleToken)
	})

	return r
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Pause(); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Resume(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Session: s.ctrl.Snapshot(),
		Level:   s.ctrl.Level(),
	})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	segments := s.ctrl.Transcript()
	if segments == nil {
		segments = []models.TranscriptSegment{}
	}
	writeJSON(w, http.StatusOK, transcriptResponse{
		Segments: segments,
		Interim:  s.ctrl.Interim(),
	})
}

// handleToken passes the credential through for SDK-side use. A failed
// credential is a normal payload (success=false), never a 5xx.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	cred, err := s.tokens.Credential(r.Context())
	if err != nil {
		cred = token.Credential{Success: false, Error: err.Error(), MockMode: true}
	}
	writeJSON(w, http.StatusOK, cred)
}

func writeCommandError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionActive),
		errors.Is(err, session.ErrNotRecording),
		errors.Is(err, session.ErrNotPaused),
		errors.Is(err, session.ErrStartCanceled):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
