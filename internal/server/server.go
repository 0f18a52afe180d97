// Package server exposes the run-state store over HTTP and WebSocket.
// Producers push wire events to POST /v1/events; consumers read view
// models, historical states, and diffs, or subscribe to a thread's
// frame stream.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rewindhq/rewind/internal/archive"
	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/runstate"
)

// ServerOption configures optional Server behavior.
type ServerOption func(*Server)

// WithLogger sets the logger used for request and stream logging.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithArchive backs GET /v1/runs/{thread}/events with recorded history.
// Without it the endpoint reports that no archive is configured.
func WithArchive(a *archive.Archive) ServerOption {
	return func(s *Server) {
		s.arch = a
	}
}

// Server holds the chi router, the store, and the intake loop that
// serializes all ingest. Every event accepted over HTTP flows through
// the intake, so producers never contend for the store directly.
type Server struct {
	router chi.Router
	store  *runstate.Store
	intake *runstate.Intake
	arch   *archive.Archive
	hub    *Hub
	log    *slog.Logger
}

// NewServer creates a Server with all routes configured. The server
// owns its intake; call Run to start draining it.
func NewServer(store *runstate.Store, opts ...ServerOption) *Server {
	s := &Server{
		store: store,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.hub = NewHub(s.log)
	s.intake = runstate.NewIntake(store,
		runstate.WithIntakeLogger(s.log),
		runstate.WithObserver(s.publishFrame),
	)

	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Post("/v1/events", s.handleIngest)
	r.Get("/v1/runs", s.handleRuns)
	r.Get("/v1/stream", s.handleStream)

	r.Route("/v1/runs/{thread}", func(r chi.Router) {
		r.Get("/", s.handleLiveView)
		r.Delete("/", s.handleRemove)
		r.Get("/state", s.handleStateAt)
		r.Get("/diff", s.handleDiff)
		r.Get("/checkpoints", s.handleCheckpoints)
		r.Get("/events", s.handleEvents)
	})

	s.router = r
	return s
}

// ServeHTTP implements the http.Handler interface, delegating to the
// chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run drains the intake until ctx is cancelled. Events enqueued by
// handlers are not applied until this loop runs.
func (s *Server) Run(ctx context.Context) error {
	return s.intake.Run(ctx)
}

// IntakeLen reports how many events are waiting to be applied.
func (s *Server) IntakeLen() int {
	return s.intake.Len()
}

// publishFrame pushes a fresh view model to a thread's subscribers
// after each event the store accepted.
func (s *Server) publishFrame(ev event.Event, res runstate.IngestResult) {
	if res.Rejected != nil {
		return
	}
	if s.hub.SubscriberCount(ev.ThreadID) == 0 {
		return
	}

	vm, err := s.store.LiveView(ev.ThreadID)
	if err != nil {
		return
	}
	data, err := encodeJSON(StreamFrame{Type: FrameTypeView, View: vm})
	if err != nil {
		s.log.Warn("encoding stream frame", "thread_id", ev.ThreadID, "error", err)
		return
	}
	s.hub.Broadcast(ev.ThreadID, data)
}

// requestLogger logs each request at debug level with its status and
// duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
