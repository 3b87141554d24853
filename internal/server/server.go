// Package server provides the HTTP server implementation for tenantgate.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/M-Moiz598/tenantgate/internal/config"
	apperrors "github.com/M-Moiz598/tenantgate/internal/errors"
	"github.com/M-Moiz598/tenantgate/internal/gateway"
	"github.com/M-Moiz598/tenantgate/internal/handler"
	"github.com/M-Moiz598/tenantgate/internal/health"
	"github.com/M-Moiz598/tenantgate/internal/middleware"
	"github.com/M-Moiz598/tenantgate/internal/service"
	"github.com/M-Moiz598/tenantgate/internal/store"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	resolver     *middleware.TenantResolver
	healthCheck  *health.HealthCheck
	errorHandler *apperrors.Handler
	logger       *zap.Logger
	cfg          *config.Config
}

// Deps bundles the constructed services the server routes to.
type Deps struct {
	Resolver   *service.ResolverService
	Directory  *service.DirectoryService
	Dispatcher *service.DispatcherService
	Gateway    *gateway.Gateway
	Workspace  *store.WorkspaceStore
	Health     *health.HealthCheck
}

// NewServer creates a new HTTP server.
func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	router := mux.NewRouter()
	errorHandler := apperrors.NewHandler(logger)
	handlers := handler.NewHandlers(deps.Directory, deps.Dispatcher, deps.Gateway, deps.Workspace, errorHandler, logger)
	resolver := middleware.NewTenantResolver(deps.Resolver, errorHandler, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     handlers,
		resolver:     resolver,
		healthCheck:  deps.Health,
		errorHandler: errorHandler,
		logger:       logger,
		cfg:          cfg,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	// Setup middleware chain
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
	}

	if s.cfg.Server.RateLimit > 0 {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.Server.RateLimit,
			s.cfg.Server.RateBurst,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	// Health check endpoints
	s.router.HandleFunc("/health", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	// API v1 routes
	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Tenant directory management (shared surface, no tenant resolution)
	v1.HandleFunc("/tenants", s.handlers.RegisterTenant).Methods(http.MethodPost)
	v1.HandleFunc("/tenants/{id}", s.handlers.GetTenant).Methods(http.MethodGet)
	v1.HandleFunc("/tenants/{id}/status", s.handlers.SetTenantStatus).Methods(http.MethodPut)
	v1.HandleFunc("/tenants/{id}/domains", s.handlers.AddTenantDomain).Methods(http.MethodPost)

	// Admin routes for dead letter inspection and replay
	admin := v1.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/dead-letters", s.handlers.ListDeadLetters).Methods(http.MethodGet)
	admin.HandleFunc("/dead-letters/{id}/replay", s.handlers.ReplayDeadLetter).Methods(http.MethodPost)

	// Tenant-scoped routes: every request resolves its Host to a partition
	// before any handler runs.
	scoped := v1.NewRoute().Subrouter()
	scoped.Use(s.resolver.Resolve)
	scoped.HandleFunc("/jobs", s.handlers.EnqueueJob).Methods(http.MethodPost)
	scoped.HandleFunc("/jobs/{id}/cancel", s.handlers.CancelJob).Methods(http.MethodPost)
	scoped.HandleFunc("/projects", s.handlers.CreateProject).Methods(http.MethodPost)
	scoped.HandleFunc("/projects", s.handlers.ListProjects).Methods(http.MethodGet)
	scoped.HandleFunc("/projects/{id}/tasks", s.handlers.CreateTask).Methods(http.MethodPost)
	scoped.HandleFunc("/projects/{id}/report", s.handlers.GenerateProjectReport).Methods(http.MethodPost)

	// Not found handler
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apperrors.ErrorCodeInvalidRequest, "endpoint not found", requestID)
	})

	// Method not allowed handler
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, apperrors.ErrorCodeInvalidRequest, "method not allowed", requestID)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.Int("port", s.cfg.Server.Port),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetRouter returns the router for testing purposes.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}
