package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	// Bulk replace rewrites a whole collection: burst of 10, then one per second
	replaceLimit := RateLimitMiddleware(rate.Every(time.Second), 10)

	if h.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	}

	// Realtime protocol
	r.With(AuthMiddleware(h.apiKey)).Get("/ws", h.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(MetricsMiddleware(h.requests))

		// Public routes
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Route("/collections/{collection}", func(r chi.Router) {
				r.Use(CollectionMiddleware)
				r.Get("/", h.GetCollection)
				r.With(replaceLimit).Put("/", h.ReplaceCollection)
			})
			r.Post("/webhooks/{name}", h.Webhook)
		})
	})

	return r
}
