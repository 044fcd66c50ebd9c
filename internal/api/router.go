package api

import (
	"net/http"

	"github.com/ashureev/ngx-reader/internal/content"
	"github.com/ashureev/ngx-reader/internal/identity"
	"github.com/ashureev/ngx-reader/internal/metrics"
	"github.com/ashureev/ngx-reader/internal/middleware"
	"github.com/ashureev/ngx-reader/internal/orchestrator"
	"github.com/ashureev/ngx-reader/internal/persona"
	"github.com/ashureev/ngx-reader/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Repo       store.Repository
	Controller *orchestrator.Controller
	Content    *content.Store
	Personas   *persona.Registry
	Metrics    *metrics.Metrics
	// Limiter throttles capability routes; nil disables throttling.
	Limiter *middleware.RateLimiter
	// Sources resolves narration audio; nil in offline mode.
	Sources SourceFinder
	// Stream and Socket push live session events.
	Stream http.Handler
	Socket http.Handler
	// SPA serves the embedded frontend for every unmatched path.
	SPA            http.Handler
	AllowedOrigins []string
	IsDev          bool
	Version        string
}

// NewRouter builds the chi router with global middleware and all routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(cfg.Metrics.Middleware)
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(middleware.CORS(origins))

	base := NewHandler(cfg.Repo, cfg.Controller, cfg.Content, cfg.Personas)
	reader := NewReaderHandler(base, cfg.Controller.Offline(), cfg.Version)

	// Public routes.
	reader.RegisterHealth(r)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	var limit func(http.Handler) http.Handler
	if cfg.Limiter != nil {
		limit = cfg.Limiter.Middleware("capability")
	}

	// Everything else runs with an anonymous device identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.Repo, cfg.IsDev))

		reader.RegisterRoutes(r)
		NewContentHandler(base).RegisterRoutes(r)
		NewSessionHandler(base, limit).RegisterRoutes(r)
		NewSpeechHandler(base, cfg.Sources, limit).RegisterRoutes(r)

		if cfg.Stream != nil {
			r.Get("/api/session/stream", cfg.Stream.ServeHTTP)
		}
		if cfg.Socket != nil {
			r.Get("/ws/session", cfg.Socket.ServeHTTP)
		}
	})

	if cfg.SPA != nil {
		r.Handle("/*", cfg.SPA)
	}
	return r
}
