// Package api exposes audience construction and job progress over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/catalog"
	"github.com/sells-group/audience-cli/internal/features"
	"github.com/sells-group/audience-cli/internal/progress"
	"github.com/sells-group/audience-cli/internal/push"
	"github.com/sells-group/audience-cli/internal/store"
	"github.com/sells-group/audience-cli/internal/wizard"
)

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Store          store.Store
	Sources        *catalog.Sources
	SizeMethods    catalog.SizeMethods
	Gateway        wizard.Gateway
	Progress       *progress.Manager
	Hub            *push.Hub
	SelectionSize  int
	AllowedOrigins []string
	// WebhookSecret, when set, must match the X-Webhook-Secret header of
	// progress pushes.
	WebhookSecret string
	// SessionTTL is how long a wizard session may sit untouched before Run
	// evicts it.
	SessionTTL time.Duration
}

// DefaultSessionTTL applies when Deps.SessionTTL is unset.
const DefaultSessionTTL = 30 * time.Minute

// Server holds the HTTP handlers.
type Server struct {
	deps     Deps
	sessions *sessions
	log      *zap.Logger
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.SelectionSize <= 0 {
		deps.SelectionSize = features.DefaultSelectionSize
	}
	if deps.SessionTTL <= 0 {
		deps.SessionTTL = DefaultSessionTTL
	}
	if len(deps.SizeMethods) == 0 {
		deps.SizeMethods = catalog.DefaultSizeMethods()
	}
	return &Server{
		deps:     deps,
		sessions: newSessions(),
		log:      zap.L().With(zap.String("component", "api")),
	}
}

// Run evicts idle wizard sessions until ctx is done.
func (s *Server) Run(ctx context.Context) {
	interval := max(s.deps.SessionTTL/4, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

func (s *Server) evictIdle() int {
	n := s.sessions.sweep(s.deps.SessionTTL)
	if n > 0 {
		s.log.Info("evicted idle wizard sessions", zap.Int("count", n))
	}
	return n
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.deps.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Post("/webhooks/progress", s.pushProgress)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sources", s.listSources)
		r.Get("/sources/{id}", s.getSource)
		r.Get("/size-methods", s.listSizeMethods)

		r.Get("/audiences", s.listAudiences)
		r.Get("/audiences/{jobID}", s.getAudience)
		r.Get("/jobs/{jobID}/progress", s.streamProgress)

		r.Route("/wizards", func(r chi.Router) {
			r.Post("/", s.createWizard)
			r.Route("/{wizardID}", func(r chi.Router) {
				r.Get("/", s.getWizard)
				r.Delete("/", s.cancelWizard)
				r.Put("/source", s.selectSource)
				r.Put("/size-method", s.selectSizeMethod)
				r.Post("/next", s.next)
				r.Post("/back", s.back)
				r.Post("/calculate", s.calculate)
				r.Post("/features/toggle", s.toggleFeature)
				r.Post("/features/reorder", s.reorderFeature)
				r.Post("/features/undo", s.undoFeatures)
				r.Put("/name", s.setName)
				r.Post("/submit", s.submit)
			})
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
