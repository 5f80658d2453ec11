// Package http exposes the spend approval engine over a JSON API.
// It is a thin adapter that translates HTTP requests into engine calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/spend-approval/internal/application/workflow"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// HealthFunc reports whether the process can serve traffic, plus any
// per-component detail worth returning to the caller.
type HealthFunc func(ctx context.Context) (bool, interface{})

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MetricsPath mounts the Prometheus handler when non-empty
	MetricsPath string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	engine     workflow.Engine
	health     HealthFunc
	logger     Logger
}

// NewServer creates a new HTTP server in front of the engine. health may be nil.
func NewServer(config ServerConfig, engine workflow.Engine, health HealthFunc, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	server := &Server{
		config: config,
		router: router,
		engine: engine,
		health: health,
		logger: logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		kv := []interface{}{
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		}
		if code, ok := c.Get(errorCodeKey); ok {
			kv = append(kv, "error_code", code)
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error("HTTP request", kv...)
			return
		}
		s.logger.Info("HTTP request", kv...)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.engine, s.health, s.logger)

	s.router.GET("/health", handlers.HealthCheck)
	if s.config.MetricsPath != "" {
		s.router.GET(s.config.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := s.router.Group("/api/v1")
	{
		// Approval actions
		api.GET("/requests", handlers.ListRequests)
		api.GET("/requests/:id", handlers.GetRequest)
		api.GET("/requests/:id/history", handlers.GetHistory)
		api.GET("/requests/:id/links", handlers.GetLinks)
		api.GET("/requests/:id/reservations", handlers.GetReservations)
		api.POST("/requests/:id/submit", handlers.Submit)
		api.POST("/requests/:id/approve", handlers.Approve)
		api.POST("/requests/:id/reject", handlers.Reject)
		api.POST("/requests/:id/cancel", handlers.Cancel)
		api.POST("/requests/:id/reopen", handlers.Reopen)

		api.GET("/budgets/:org/:account/:period", handlers.GetBalance)

		// Intake from upstream systems
		intake := api.Group("/intake")
		intake.POST("/requests", handlers.CreateDraft)
		intake.PUT("/requests/:id", handlers.UpdateDraft)
		intake.POST("/requests/:id/artifacts", handlers.RecordArtifact)
		intake.PUT("/artifacts/:link_id", handlers.UpdateArtifact)
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
