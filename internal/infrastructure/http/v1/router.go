// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"github.com/dougwmorrow/open-sc/internal/domain/auth"
	"github.com/dougwmorrow/open-sc/internal/domain/engine"
	"github.com/dougwmorrow/open-sc/internal/infrastructure/http/v1/handlers"
	"github.com/dougwmorrow/open-sc/internal/infrastructure/http/v1/middleware"
	"github.com/dougwmorrow/open-sc/internal/infrastructure/storage/postgres"
	"github.com/dougwmorrow/open-sc/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Pool is the database connection pool, used by health checks.
	Pool *postgres.Pool

	// Logger for request logging.
	Logger *logger.Logger

	// Engine applies batches and serves temporal reads.
	Engine *engine.Engine

	// AuthService issues and validates bearer tokens.
	AuthService *auth.Service
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	base := handlers.NewBaseHandler()

	// API v1
	api := router.Group("/api/v1")
	{
		// Token exchange is the only unauthenticated endpoint
		authHandler := handlers.NewAuthHandler(base, cfg.AuthService)
		authHandler.RegisterRoutes(api.Group("/auth"))

		// All other routes require a valid bearer token
		protected := api.Group("")
		protected.Use(middleware.Auth(cfg.AuthService))

		versionHandler := handlers.NewVersionHandler(base, cfg.Engine)
		versionHandler.RegisterRoutes(protected)

		// Batch application needs write access
		writer := protected.Group("")
		writer.Use(middleware.RequireWriter())

		batchHandler := handlers.NewBatchHandler(base, cfg.Engine)
		batchHandler.RegisterRoutes(writer)

		// Integrity and governance operations need admin access
		admin := protected.Group("/admin")
		admin.Use(middleware.RequireAdmin())

		adminHandler := handlers.NewAdminHandler(base, cfg.Engine, cfg.AuthService)
		adminHandler.RegisterRoutes(admin)
	}

	return router
}
