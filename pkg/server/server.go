package server

import (
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// Limits bound the concurrency of the server. Requests beyond MaxParallel
// wait up to BacklogTimeout for a slot; streaming generations hold theirs
// until the last chunk.
type Limits struct {
	MaxParallel    int
	Backlog        int
	BacklogTimeout time.Duration
	// RequestTimeout is the deadline of non-streaming requests
	RequestTimeout time.Duration
}

// Server wraps a chi router (chi.Mux)
type Server struct {
	name   string
	cors   *cors.Cors
	mux    *chi.Mux
	limits Limits
}

func (s *Server) configMux() *chi.Mux {
	// the request timeout is applied per route group, chat streams run past it
	s.mux.Use(
		render.SetContentType(render.ContentTypeJSON), // Set content-Type headers as application/json
		s.cors.Handler, // Set Access-Control-Allow-Origin header
		middleware.RequestID,
		middleware.Compress(5), // Compress results, mostly gzipping assets and json
		middleware.Recoverer,   // Recover from panics without crashing server
		middleware.StripSlashes,
		middleware.RealIP,
		middleware.ThrottleBacklog(s.limits.MaxParallel, s.limits.Backlog, s.limits.BacklogTimeout),
	)
	return s.mux
}

// NewServer creates a router with routes setup
func NewServer(name string, cors *cors.Cors, limits Limits) *Server {
	if limits.MaxParallel <= 0 {
		limits.MaxParallel = 1
	}
	if limits.Backlog < 0 {
		limits.Backlog = 0
	}
	s := &Server{
		name:   name,
		cors:   cors,
		limits: limits,
	}
	s.mux = chi.NewRouter()
	s.configMux()
	return s
}

// Mux returns the chi router
func (s *Server) Mux() *chi.Mux {
	return s.mux
}

// Timeout is the deadline of non-streaming requests
func (s *Server) Timeout() time.Duration {
	return s.limits.RequestTimeout
}
