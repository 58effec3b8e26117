package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/docuiq/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/docuiq/internal/api/middlewares"
	"github.com/markdave123-py/docuiq/internal/config"
	"github.com/markdave123-py/docuiq/internal/core/metrics"
	"github.com/markdave123-py/docuiq/internal/pkg/logger"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, log *logger.Logger, m *metrics.Metrics, engine *handlers.EngineHandler, content *handlers.ContentHandler, jobs *handlers.JobHandler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(appMiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Handle("/metrics", m.Handler())

	// Engine endpoints, called by other services.
	r.Route("/ai", func(ai chi.Router) {
		ai.Post("/index_document", engine.IndexDocument)
		ai.Post("/unindex_document", engine.UnindexDocument)
		ai.Post("/ask", engine.Ask)
		ai.Post("/embed", engine.Embed)
		ai.Post("/admin/clear_all", engine.ClearAll)
		ai.Get("/health", engine.Health)
	})

	// Tenant endpoints
	r.Route("/api", func(api chi.Router) {
		api.Use(appMiddleware.JWT([]byte(cfg.JWTSecret)))

		api.Post("/content/upload", content.Upload)
		api.Post("/content/web", content.SubmitWeb)
		api.Get("/content", content.List)
		api.Get("/content/{id}/status", content.Status)
		api.Post("/content/{id}/retry", content.Retry)
		api.Delete("/content/{id}", content.Delete)
		api.Post("/ask", content.Ask)
		api.Post("/admin/cleanup", content.Cleanup)

		api.Get("/jobs", jobs.List)
		api.Get("/jobs/{id}", jobs.Get)
		api.Post("/jobs/{id}/cancel", jobs.Cancel)
		api.Delete("/jobs/{id}", jobs.Delete)
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv, log: log}
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
