// Package api is the HTTP control surface the operator uses to commit
// attempts, discard the buffer and finalize items.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ocr-labeler/internal/app"
	"ocr-labeler/internal/dataset"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Engine is the part of the labeling engine the API drives.
type Engine interface {
	Snapshot() app.Snapshot
	AddAttempt() (string, error)
	DiscardBuffer() bool
	SaveBufferText() (string, error)
	Finalize(ctx context.Context, meta dataset.Metadata) (dataset.ItemRecord, error)
	Records(ctx context.Context) ([]dataset.ItemRecord, error)
}

// Options configures the server.
type Options struct {
	Addr        string
	CORSOrigins []string
	Log         zerolog.Logger
}

// Server is a thin wrapper over chi and http.Server.
type Server struct {
	engine Engine
	log    zerolog.Logger
	mux    *chi.Mux
	srv    *http.Server
}

// NewServer builds the router for engine.
func NewServer(engine Engine, opt Options) *Server {
	s := &Server{engine: engine, log: opt.Log}

	m := chi.NewRouter()
	m.Use(chimw.RequestID, chimw.RealIP, s.accessLog, chimw.Recoverer)
	if len(opt.CORSOrigins) > 0 {
		m.Use(cors.Handler(cors.Options{
			AllowedOrigins: opt.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}

	m.Get("/healthz", s.health)
	m.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Post("/attempts", s.addAttempt)
		r.Delete("/buffer", s.discardBuffer)
		r.Post("/buffer/save", s.saveBuffer)
		r.Get("/items", s.listItems)
		r.Post("/items", s.finalize)
		r.Get("/storage-recommendations", s.storageRecommendations)
	})

	s.mux = m
	s.srv = &http.Server{
		Addr:              opt.Addr,
		Handler:           m,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		ev := s.log.Debug()
		if ww.Status() >= 500 {
			ev = s.log.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("http request")
	})
}
