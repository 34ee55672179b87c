// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"txguard/internal/domain/account"
	"txguard/internal/infrastructure/http/v1/handlers"
	"txguard/internal/infrastructure/http/v1/middleware"
	"txguard/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// Accounts is the transactional account service
	Accounts account.Service

	// Health serves liveness and readiness probes
	Health *handlers.HealthHandler

	// Gatherer backs GET /metrics; nil disables the endpoint
	Gatherer prometheus.Gatherer

	// Charset forced on every response Content-Type
	Charset string

	// MaxWorkers and AcceptCount bound concurrent API requests
	MaxWorkers  int
	AcceptCount int

	// RateLimiter throttles API requests per client; nil disables it
	RateLimiter *middleware.RateLimiter

	// Development enables gin debug mode
	Development bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(log))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.CharacterEncoding(cfg.Charset))

	// Health endpoints (never throttled)
	if cfg.Health != nil {
		health := router.Group("/health")
		{
			health.GET("/live", cfg.Health.Live)
			health.GET("/ready", cfg.Health.Ready)
		}
	}

	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	// API v1
	v1 := router.Group("/api/v1")
	v1.Use(middleware.ConcurrencyLimit(cfg.MaxWorkers, cfg.AcceptCount))
	if cfg.RateLimiter != nil {
		v1.Use(middleware.RateLimit(cfg.RateLimiter))
	}
	{
		accountHandler := handlers.NewAccountHandler(handlers.NewBaseHandler(), cfg.Accounts)
		accountHandler.RegisterRoutes(v1)
	}

	return router
}
