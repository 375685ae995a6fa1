package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/onmp21/glamour-chat-center-34-sub000/internal/http/handlers"
	httpmiddleware "github.com/onmp21/glamour-chat-center-34-sub000/internal/http/middleware"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/messaging"
	"github.com/onmp21/glamour-chat-center-34-sub000/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	InboxHandler   *handlers.InboxHandler
	WebhookHandler *messaging.Handler
	HealthHandler  *handlers.HealthHandler
	MetricsHandler http.Handler

	// The dashboard API is left open when empty; only do that in development.
	DashboardJWTSecret string
	CORSAllowedOrigins []string

	// Per-channel limiter for webhook deliveries (optional).
	WebhookLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		health := cfg.HealthHandler
		if health == nil {
			health = handlers.NewHealthHandler(nil)
		}
		public.Get("/health", health.Health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.WebhookHandler != nil {
			public.Route("/webhooks/whatsapp", func(r chi.Router) {
				if cfg.WebhookLimiter != nil {
					r.Use(cfg.WebhookLimiter.Middleware(webhookChannelKey))
				}
				r.Post("/{channel}", cfg.WebhookHandler.WhatsAppWebhook)
			})
		}
	})

	if cfg.InboxHandler != nil {
		r.Route("/api", func(api chi.Router) {
			if cfg.DashboardJWTSecret != "" {
				api.Use(httpmiddleware.DashboardJWT(cfg.DashboardJWTSecret))
			}
			h := cfg.InboxHandler
			api.Get("/channels", h.ListChannels)
			api.Route("/channels/{channel}", func(ch chi.Router) {
				ch.Get("/stream", h.Stream)
				ch.Get("/audit", h.ListAudit)

				// Stream upgrades must not be compressed.
				ch.Group(func(rest chi.Router) {
					rest.Use(middleware.Compress(5))
					rest.Get("/conversations", h.ListConversations)
					rest.Route("/conversations/{phone}", func(conv chi.Router) {
						conv.Get("/messages", h.ListMessages)
						conv.Post("/messages", h.SendMessage)
						conv.Put("/status", h.UpdateStatus)
						conv.Post("/read", h.MarkRead)
					})
				})
			})
		})
	}

	return r
}

// webhookChannelKey buckets webhook deliveries by the channel path segment.
func webhookChannelKey(r *http.Request) string {
	return "whatsapp:" + r.URL.Path
}
