package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/patientpal/internal/auth"
	"github.com/wolfman30/patientpal/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/patientpal/internal/http/middleware"
	"github.com/wolfman30/patientpal/internal/webchat"
	"github.com/wolfman30/patientpal/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Authenticator      auth.Authenticator
	System             *handlers.SystemHandler
	Chat               *webchat.Handler
	MessageLimiter     *httpmiddleware.RateLimiter
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	system := cfg.System
	if system == nil {
		system = handlers.NewSystemHandler(logger)
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(logger))

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", system.Health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Everything else needs a verified user.
	if cfg.Authenticator != nil {
		r.Group(func(private chi.Router) {
			private.Use(httpmiddleware.RequireUser(cfg.Authenticator, logger))
			private.Get("/ping", system.Ping)

			if cfg.Chat != nil {
				private.Route("/chat", func(chat chi.Router) {
					chat.Get("/ws", cfg.Chat.HandleWebSocket)
					chat.Get("/history", cfg.Chat.HandleHistory)
					if cfg.MessageLimiter != nil {
						chat.With(httpmiddleware.RateLimit(cfg.MessageLimiter)).Post("/message", cfg.Chat.HandleMessage)
					} else {
						chat.Post("/message", cfg.Chat.HandleMessage)
					}
				})
			}
		})
	}

	return r
}
