// Package server provides the HTTP API for the evaluation pipeline.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/vaakshakti/pipeline/internal/models"
	"github.com/vaakshakti/pipeline/internal/service"
	"github.com/vaakshakti/pipeline/internal/store"
)

// Server serves the evaluation API.
type Server struct {
	service        *service.Service
	log            *logrus.Logger
	addr           string
	maxUploadBytes int64
	server         *http.Server
}

// NewServer creates the HTTP server.
func NewServer(svc *service.Service, log *logrus.Logger, addr string, maxUploadBytes int64) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}
	return &Server{service: svc, log: log, addr: addr, maxUploadBytes: maxUploadBytes}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/speech/evaluate", s.submitEvaluation)
		r.Get("/tasks/{taskID}/status", s.taskStatus)
		r.Get("/tasks/{taskID}/events", s.taskEvents)
		r.Get("/sessions/{sessionID}", s.getSession)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// Start runs the server until it is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.log.WithField("addr", s.addr).Info("http server listening")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// submitEvaluation handles POST /api/v1/speech/evaluate. The body is
// multipart form data with an audio_file part and the question context
// fields.
func (s *Server) submitEvaluation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("audio_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio_file is required")
		return
	}
	defer file.Close()

	sub := service.Submission{
		Topic:       r.FormValue("topic"),
		Difficulty:  r.FormValue("difficulty"),
		Question:    r.FormValue("question"),
		IdealAnswer: r.FormValue("ideal_answer"),
		Model:       r.FormValue("model"),
		Audio:       file,
		Filename:    header.Filename,
	}
	if raw := r.FormValue("required_components"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			sub.Required = append(sub.Required, models.ComponentKind(strings.TrimSpace(part)))
		}
	}

	task, err := s.service.SubmitEvaluation(r.Context(), sub)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingAudio),
			errors.Is(err, service.ErrMissingQuestion),
			errors.Is(err, service.ErrUnknownComponent):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.log.WithError(err).Error("submission failed")
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"task_id": task.ID,
		"status":  task.State,
		"message": "Evaluation started. Poll the status endpoint for progress.",
	})
}

// taskStatus handles GET /api/v1/tasks/{taskID}/status.
func (s *Server) taskStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.TaskStatus(chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.log.WithError(err).Error("status query failed")
		writeError(w, http.StatusInternalServerError, "status query failed")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// taskEvents handles GET /api/v1/tasks/{taskID}/events.
func (s *Server) taskEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.service.Events(chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.log.WithError(err).Error("events query failed")
		writeError(w, http.StatusInternalServerError, "events query failed")
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// getSession handles GET /api/v1/sessions/{sessionID}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	session, err := s.service.Session(id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.log.WithError(err).Error("session query failed")
		writeError(w, http.StatusInternalServerError, "session query failed")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// requestLogger logs one line per request with method, path, status and
// duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
