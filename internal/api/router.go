package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"agentflow/internal/core"
	agentflowmcp "agentflow/internal/mcp"
	"agentflow/internal/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	engine     *core.Engine
	mcpServer  *agentflowmcp.MCPServer
	events     *eventStream
	logger     *slog.Logger
	authToken  string
}

// NewServer constructs the HTTP API server.
func NewServer(addr string, authToken string, engine *core.Engine, mcpServer *agentflowmcp.MCPServer, logger *slog.Logger) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		engine:    engine,
		mcpServer: mcpServer,
		events:    newEventStream(engine, logger),
		logger:    logger,
		authToken: authToken,
	}
	s.registerRoutes()

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	s.httpServer = httpServer
	return s, nil
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.events.close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Handle("/metrics", telemetry.Handler(s.engine))

	if s.mcpServer != nil {
		var mcpHandler http.Handler = s.mcpServer
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Post("/cron/preview", s.handleCronPreview)
		r.Get("/status", s.handleStatus)
		r.Get("/export", s.handleExport)
		r.Get("/events", s.events.serve)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Post("/batch", s.handleCreateBatch)
			r.Post("/pause-all", s.handlePauseAll)
			r.Post("/resume-all", s.handleResumeAll)
			r.Post("/cleanup", s.handleCleanup)

			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Post("/cancel", s.handleCancelTask)
				r.Post("/retry", s.handleRetryTask)
				r.Post("/pause", s.handlePauseTask)
				r.Post("/resume", s.handleResumeTask)
				r.Post("/progress", s.handleSetProgress)
			})
		})

		r.Route("/metrics", func(r chi.Router) {
			r.Get("/health", s.handleHealthMetrics)
			r.Get("/agents", s.handleAgentMetrics)
			r.Get("/daily", s.handleDailyMetrics)
		})

		r.Get("/schedules", s.handleListSchedules)
	})
}
