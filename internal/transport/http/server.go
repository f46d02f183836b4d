package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"brokle/internal/config"
	"brokle/internal/transport/http/handlers"
	"brokle/internal/transport/http/middleware"
)

// Server represents the HTTP server
type Server struct {
	config   *config.Config
	logger   *logrus.Logger
	server   *http.Server
	handlers *handlers.Handlers
	engine   *gin.Engine
	serveErr chan error
}

// NewServer creates a new HTTP server instance
func NewServer(
	cfg *config.Config,
	logger *logrus.Logger,
	handlers *handlers.Handlers,
) *Server {
	return &Server{
		config:   cfg,
		logger:   logger,
		handlers: handlers,
		serveErr: make(chan error, 1),
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if s.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	s.engine = gin.New()

	corsConfig := cors.DefaultConfig()

	if len(s.config.Server.CORSAllowedOrigins) == 1 && s.config.Server.CORSAllowedOrigins[0] == "*" {
		s.logger.Fatal("CORS misconfiguration: cannot use wildcard (*) origins with AllowCredentials. " +
			"Set specific origins in CORS_ALLOWED_ORIGINS environment variable.")
		return errors.New("invalid CORS configuration: wildcard origins incompatible with credentials")
	}
	if len(s.config.Server.CORSAllowedOrigins) == 0 {
		s.logger.Fatal("CORS misconfiguration: no CORS_ALLOWED_ORIGINS configured")
		return errors.New("invalid CORS configuration: no origins specified")
	}

	corsConfig.AllowOrigins = s.config.Server.CORSAllowedOrigins
	corsConfig.AllowMethods = s.config.Server.CORSAllowedMethods
	corsConfig.AllowHeaders = s.config.Server.CORSAllowedHeaders
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 5 * time.Minute
	s.engine.Use(cors.New(corsConfig))

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.engine,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.WithField("port", s.config.Server.Port).Info("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.serveErr <- err
		return err
	}
	return nil
}

// ServeErr reports a background send if the listener exits unexpectedly
// after Start returns.
func (s *Server) ServeErr() <-chan error {
	return s.serveErr
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger(s.logger))
	s.engine.Use(middleware.Recovery(s.logger))
	s.engine.Use(middleware.Metrics())

	s.engine.GET("/health", s.handlers.Health.Check)
	s.engine.HEAD("/health", s.handlers.Health.Check)
	s.engine.GET("/health/ready", s.handlers.Health.Ready)
	s.engine.HEAD("/health/ready", s.handlers.Health.Ready)
	s.engine.GET("/health/live", s.handlers.Health.Live)
	s.engine.HEAD("/health/live", s.handlers.Health.Live)

	if s.config.IsDevelopment() {
		s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))
	}

	v1 := s.engine.Group("/v1/asr")
	{
		v1.POST("/tasks", s.handlers.ASR.CreateTask)
		v1.POST("/tasks/:id/settle", s.handlers.ASR.Settle)
		v1.GET("/statement", s.handlers.ASR.Statement)
	}

	admin := s.engine.Group("/v1/admin/asr")
	{
		admin.GET("/pricing", s.handlers.ASR.ListPricing)
		admin.PUT("/pricing", s.handlers.ASR.UpsertPricing)
		admin.PUT("/quota", s.handlers.ASR.UpsertQuota)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
