package routes

import (
	"net/http"

	"github.com/garvis/router/app"
	"github.com/garvis/router/middleware"
	"github.com/garvis/router/utils"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all router endpoints and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger.Named("http"), deps.Metrics))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{
			"X-Request-Id",
			"X-Router-Endpoint",
			"X-Router-Alias",
			"X-Router-Model",
			"X-Router-Rule",
			"X-Router-Latency-Ms",
		},
		MaxAge: 300,
	}))

	// Public
	r.Get("/health", deps.HealthHandler.HandleHealth)
	r.Get("/healthz", deps.HealthHandler.HandleLiveness)
	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	// Bearer token required
	r.Group(func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)

		r.Post("/route", deps.RouterHandler.HandleRoute)
		r.Post("/evaluate", deps.RouterHandler.HandleRoute)
		r.Post("/api/generate", deps.RouterHandler.HandleGenerate)
		r.Post("/generate", deps.RouterHandler.HandleGenerate)
		r.Get("/api/tags", deps.RouterHandler.HandleTags)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	return r
}
