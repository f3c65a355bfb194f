package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"sentinel-lab/internal/api/handlers"
	apimiddleware "sentinel-lab/internal/api/middleware"
	"sentinel-lab/internal/config"
	"sentinel-lab/pkg/logger"
)

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	metrics  http.Handler
	logger   *logger.Logger
}

// NewRouter creates a new Router instance; metrics may be nil
func NewRouter(cfg config.Config, h *handlers.Handlers, metrics http.Handler, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		metrics:  metrics,
		logger:   log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.Logger(r.logger))
	router.Use(middleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.CORS.AllowedOrigins,
		AllowedMethods:   r.config.CORS.AllowedMethods,
		AllowedHeaders:   r.config.CORS.AllowedHeaders,
		AllowCredentials: r.config.CORS.AllowCredentials,
		MaxAge:           r.config.CORS.MaxAge,
	}))

	router.Get("/health", r.handlers.Health.Check)
	router.Get("/ready", r.handlers.Health.Ready)
	if r.metrics != nil && r.config.Metrics.Enabled {
		router.Handle(r.config.Metrics.Path, r.metrics)
	}

	router.Route("/api/v1", func(api chi.Router) {
		api.Use(apimiddleware.APIKeyAuth(r.config.Server.APIKeys))

		// Long-lived; kept outside the request timeout
		api.Get("/findings/stream", r.handlers.Stream.Findings)

		api.Group(func(api chi.Router) {
			api.Use(middleware.Timeout(r.requestTimeout()))

			api.Post("/events", r.handlers.Events.Ingest)
			api.Post("/events/bulk", r.handlers.Events.RecordBulk)

			api.Get("/identities", r.handlers.Events.ListIdentities)
			api.Put("/identities/{id}", r.handlers.Events.UpsertIdentity)
			api.Post("/identities/{id}/events/batch", r.handlers.Events.IngestBatch)
			api.Get("/identities/{id}/fingerprint", r.handlers.Events.Fingerprint)

			api.Get("/model", r.handlers.Model.Info)
			api.Post("/model/score", r.handlers.Model.Score)
			api.Post("/model/explain", r.handlers.Model.Explain)

			api.Get("/techniques", r.handlers.Model.Catalog)
			api.Post("/techniques/map", r.handlers.Model.MapTechniques)
			api.Post("/mitigations/plan", r.handlers.Model.PlanMitigations)
			api.Post("/mitigations/{id}/implemented", r.handlers.Findings.MarkImplemented)

			api.Get("/findings", r.handlers.Findings.List)
			api.Get("/findings/stats", r.handlers.Findings.Stats)
			api.Get("/findings/{id}", r.handlers.Findings.Get)
			api.Patch("/findings/{id}/status", r.handlers.Findings.UpdateStatus)

			api.Post("/scan", r.handlers.Findings.Scan)
		})

		// Training is bounded by model.train_timeout instead
		api.Post("/model/train", r.handlers.Model.Train)
	})

	return router
}

func (r *Router) requestTimeout() time.Duration {
	if r.config.Server.WriteTimeout > 0 {
		return r.config.Server.WriteTimeout
	}
	return 60 * time.Second
}
