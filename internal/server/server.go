package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/moin0420/hybrid-app/internal/entities"
	"github.com/pkg/errors"
)

type requirementsService interface {
	List(ctx context.Context) ([]entities.Requirement, error)
	Create(ctx context.Context, fields entities.RequirementPatch) (*entities.Requirement, error)
	Update(ctx context.Context, id int, fields entities.RequirementPatch, actingRecruiter string) (*entities.Requirement, error)
}

type Server struct {
	router       *chi.Mux
	requirements requirementsService
	pollInterval time.Duration
	limiter      *updateLimiter
	staticDir    string
	metrics      http.Handler
}

type Option func(*Server)

// WithUpdateRateLimit limits write requests per client address.
func WithUpdateRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 {
			s.limiter = newUpdateLimiter(perSecond, burst)
		}
	}
}

// WithStaticDir serves a single page application build from dir.
func WithStaticDir(dir string) Option {
	return func(s *Server) {
		s.staticDir = dir
	}
}

func WithMetrics(handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
	}
}

func New(requirements requirementsService, pollInterval time.Duration, opts ...Option) (*Server, error) {
	if requirements == nil {
		return nil, errors.New("requirements service is nil")
	}

	r := chi.NewRouter()
	s := &Server{
		router:       r,
		requirements: requirements,
		pollInterval: pollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/settings", s.getSettings)
		r.Route("/requirements", func(r chi.Router) {
			r.Get("/", s.listRequirements)
			r.Group(func(r chi.Router) {
				if s.limiter != nil {
					r.Use(s.limiter.middleware)
				}
				r.Post("/", s.createRequirement)
				r.Put("/{id}", s.updateRequirement)
				r.Patch("/{id}", s.updateRequirement)
			})
		})
	})

	if s.staticDir != "" {
		if _, err := os.Stat(s.staticDir); err != nil {
			return nil, errors.Wrap(err, "static dir is not accessible")
		}
		r.Get("/*", spaHandler(s.staticDir))
	}

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{
		"poll_interval_ms": s.pollInterval.Milliseconds(),
	})
}

// spaHandler serves files from dir and falls back to index.html for client side routes.
func spaHandler(dir string) http.HandlerFunc {
	fileServer := http.FileServer(http.Dir(dir))

	return func(w http.ResponseWriter, r *http.Request) {
		urlPath := strings.TrimPrefix(filepath.Clean("/"+r.URL.Path), "/")
		if urlPath != "" {
			if info, err := os.Stat(filepath.Join(dir, urlPath)); err == nil && !info.IsDir() {
				fileServer.ServeHTTP(w, r)
				return
			}
		}
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	}
}
