package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/commerce-concierge/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/commerce-concierge/internal/http/middleware"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Turns          *handlers.TurnsHandler
	MetricsHandler http.Handler

	// ServiceAuthSecret signs service bearer tokens. When empty the turn API
	// is only mounted if AllowUnauthenticated is set (local development).
	ServiceAuthSecret    string
	AllowUnauthenticated bool

	// Per-tenant turn budget; nil disables rate limiting.
	RateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	logger := logging.OrDefault(cfg.Logger)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", handlers.Health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.Turns == nil {
		return r
	}
	if cfg.ServiceAuthSecret == "" && !cfg.AllowUnauthenticated {
		logger.Warn("turn api not mounted: SERVICE_JWT_SECRET is empty")
		return r
	}

	r.Route("/v1", func(api chi.Router) {
		if cfg.ServiceAuthSecret != "" {
			api.Use(httpmiddleware.ServiceJWT(cfg.ServiceAuthSecret))
		}
		api.Use(httpmiddleware.RequestLogger(logger))
		if cfg.RateLimiter != nil {
			api.With(httpmiddleware.RateLimit(cfg.RateLimiter, httpmiddleware.TenantOrIP)).
				Post("/turns", cfg.Turns.PostTurn)
		} else {
			api.Post("/turns", cfg.Turns.PostTurn)
		}
		api.Get("/tenants/{tenantID}/conversations/{conversationID}", cfg.Turns.GetConversation)
	})

	return r
}
