package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xavierca1/lead-market/internal/infra/http/handlers"
	"github.com/xavierca1/lead-market/internal/infra/http/middleware"
)

// Router builds the HTTP surface. tokens may be empty, in which case every
// admin call is rejected as unauthenticated.
func (a *App) Router(tokens *middleware.AdminTokens) http.Handler {
	webhook := handlers.NewWebhookHandler(a.Payments, a.Fulfill, a.Log.With("component", "webhook"))
	admin := handlers.NewAdminHandler(a.Recover, a.RecoverStuck, a.Replace, a.Refund, a.Log.With("component", "admin"))
	health := handlers.NewHealthHandler(Version, a.dependencies()...)

	webhookLimit := middleware.NewRateLimiter(120, time.Minute)
	adminLimit := middleware.NewRateLimiter(30, time.Minute)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.Cfg.CORSOriginList(),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/healthz", health.Live)
	r.Get("/readyz", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.With(middleware.RateLimit(webhookLimit)).Post("/webhooks/payments", webhook.Handle)

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RateLimit(adminLimit))
		r.Use(middleware.Authenticate(tokens))
		admin.Routes(r)
	})

	return r
}

func (a *App) dependencies() []handlers.Dependency {
	var deps []handlers.Dependency
	switch {
	case a.DB != nil:
		deps = append(deps, handlers.CheckFunc{Label: "database", Fn: a.DB.PingContext})
	case a.Mem != nil:
		deps = append(deps, handlers.CheckFunc{Label: "memory_store", Fn: a.Mem.Ping})
	}
	if a.Rabbit != nil {
		deps = append(deps, handlers.CheckFunc{Label: "rabbitmq", Fn: func(context.Context) error {
			if !a.Rabbit.Healthy() {
				return errors.New("connection closed")
			}
			return nil
		}})
	}
	return deps
}
