package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"stagectl/lib/midictl"
	"stagectl/lib/router"
	"stagectl/lib/show"
	"stagectl/lib/store"
)

const DefaultLearnTimeout = 10 * time.Second

type Deps struct {
	Router     *router.Router
	Live       *show.Live
	Dispatcher *midictl.Dispatcher
	Store      store.Repository
	Hub        *Hub
}

type Options struct {
	StaticDir    string
	CORSOrigins  []string
	LearnTimeout time.Duration
}

// Server is the HTTP control surface of the console.
type Server struct {
	deps   Deps
	opts   Options
	router chi.Router
	server *http.Server
}

func NewServer(deps Deps, opts Options) *Server {
	if opts.LearnTimeout <= 0 {
		opts.LearnTimeout = DefaultLearnTimeout
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	s := &Server{
		deps:   deps,
		opts:   opts,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) Hub() *Hub {
	return s.deps.Hub
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Route("/api/v1", s.setupAPIRoutes)
}

func (s *Server) setupAPIRoutes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/show", s.handleShow)

	r.Route("/devices", func(r chi.Router) {
		r.Get("/", s.handleListDevices)
		r.Get("/state", s.handleDeviceState)
		r.Post("/refresh", s.handleRefreshDevices)
		r.Post("/{id}/{op}", s.handleDeviceOp)
	})

	r.Post("/groups/{id}/{op}", s.handleGroupOp)

	r.Route("/sequences", func(r chi.Router) {
		r.Get("/", s.handlePlaying)
		r.Get("/{id}/progress", s.handleSequenceProgress)
		r.Post("/{id}/{op}", s.handleSequenceOp)
	})

	r.Route("/scenes", func(r chi.Router) {
		r.Post("/index/{n}", s.handleSceneIndex)
		r.Post("/{id}/activate", s.handleActivateScene)
	})
	r.Get("/scene", s.handleActiveScene)

	r.Post("/blackout", s.handleBlackout)

	r.Route("/midi", func(r chi.Router) {
		r.Get("/inputs", s.handleMIDIInputs)
		r.Post("/input", s.handleSelectInput)
		r.Get("/last", s.handleLastNote)
		r.Post("/learn", s.handleLearn)
		r.Get("/mappings", s.handleListMappings)
		r.Put("/mappings", s.handleUpsertMapping)
		r.Delete("/mappings/{id}", s.handleDeleteMapping)
	})

	r.Get("/ws", s.handleWS)
}

// Handler serves the API and, when a static directory is configured, the
// operator UI for every other path.
func (s *Server) Handler() http.Handler {
	dir := s.opts.StaticDir
	if dir == "" {
		return s.router
	}
	if _, err := os.Stat(dir); err != nil {
		log.Warn().Str("dir", dir).Msg("static directory not found, UI will not be served")
		return s.router
	}
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			s.router.ServeHTTP(w, r)
			return
		}
		if r.URL.Path == "/" || !strings.Contains(r.URL.Path, ".") {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		files.ServeHTTP(w, r)
	})
}

func (s *Server) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("starting http api")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Hub.Close()
	return s.server.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http")
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
