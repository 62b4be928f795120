package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/commerce-agent/internal/middleware"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
)

// RouterConfig carries the secrets and limits of the HTTP surface.
type RouterConfig struct {
	JWTSecret         string
	APIToken          string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Handlers are the route handlers mounted by NewRouter. Nil handlers leave
// their routes unmounted.
type Handlers struct {
	Health        *HealthHandler
	Integration   *IntegrationHandler
	Conversations *ConversationHandler
	Stream        *StreamHandler
	Leads         *LeadHandler
	Billing       *BillingHandler
}

// NewRouter builds the chi router with the integration API under
// /api/{tenantId} and the back-office API under /api/v1.
func NewRouter(cfg RouterConfig, h Handlers, log *logger.Logger) http.Handler {
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 60
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)

	if h.Health != nil {
		r.Get("/health", h.Health.Health)
		r.Get("/ready", h.Health.Ready)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.AllowedOrigins))
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		if h.Conversations != nil {
			r.Route("/conversations", func(r chi.Router) {
				r.Use(middleware.RequireScope(middleware.ScopeConversations))
				r.Get("/", h.Conversations.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.Conversations.Get)
					r.Post("/close", h.Conversations.Close)
					if h.Stream != nil {
						r.Get("/stream", h.Stream.Stream)
					}
				})
			})
		}
		if h.Leads != nil {
			r.With(middleware.RequireScope(middleware.ScopeLeads)).Put("/leads/{id}", h.Leads.Update)
		}
		if h.Billing != nil {
			r.With(middleware.RequireScope(middleware.ScopeBilling)).Get("/billing", h.Billing.Report)
		}
	})

	if h.Integration != nil {
		r.Route("/api/{tenantId}", func(r chi.Router) {
			r.Use(middleware.APIToken(cfg.APIToken))
			r.Use(middleware.TenantPathRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

			r.Post("/messages", h.Integration.Inbound)
			r.Post("/products/update", h.Integration.UpdateProduct)
			r.Post("/comclients/update", h.Integration.UpdateClient)
			r.Post("/sells/update", h.Integration.UpdateSell)
			r.Post("/leads", h.Integration.LeadByPhone)
			r.Post("/pedidos", h.Integration.OrderByPhone)
		})
	}

	return r
}
