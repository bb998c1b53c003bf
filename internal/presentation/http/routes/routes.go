// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/assetsign/internal/application/container"
	"github.com/AtRiskMedia/assetsign/internal/presentation/http/handlers"
	"github.com/AtRiskMedia/assetsign/internal/presentation/http/middleware"
	"github.com/AtRiskMedia/assetsign/pkg/config"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(container.Logger))
	r.Use(middleware.CORSMiddleware(config.AllowedOrigins))

	// Initialize handlers
	signHandlers := handlers.NewSignHandlers(container.SigningService, container.AssetRepo, container.Store, container.Logger, container.PerfTracker)
	resolveHandlers := handlers.NewResolveHandlers(container.ResolutionService, container.Logger, container.PerfTracker)
	assetHandlers := handlers.NewAssetHandlers(container.AssetService, container.Logger, container.PerfTracker)
	cacheHandlers := handlers.NewCacheHandlers(container.URLCache, container.CacheMonitor, container.Coalescer, container.WarmingLock, container.Logger, container.PerfTracker)
	systemHandlers := handlers.NewSystemHandlers(container.Logger, container.PerfTracker)
	streamHandlers := handlers.NewStreamHandlers(container.Broadcaster, config.AllowedOrigins, container.Logger)

	adminOnly := middleware.AdminAuth(container.AdminKeyHash, container.Logger)

	r.GET("/health", systemHandlers.Health)

	// File serving
	r.GET("/files/*key", signHandlers.ServeFile)
	r.GET("/public/*key", signHandlers.ServePublic)

	api := r.Group("/api/v1")
	{
		api.GET("/sign", signHandlers.Sign)
		api.GET("/resolve", resolveHandlers.Resolve)

		api.GET("/cache/stats", cacheHandlers.Stats)
		api.GET("/cache/health", cacheHandlers.Health)
		api.GET("/coalescer/stats", cacheHandlers.CoalescerStats)
		api.GET("/stats/ws", streamHandlers.Stats)

		// Admin endpoints
		admin := api.Group("")
		admin.Use(adminOnly)
		{
			admin.GET("/assets", assetHandlers.List)
			admin.POST("/assets", assetHandlers.Register)
			admin.DELETE("/assets/:id", assetHandlers.Delete)

			admin.DELETE("/cache", cacheHandlers.Invalidate)
			admin.POST("/cache/prefetch", cacheHandlers.Prefetch)
			admin.POST("/coalescer/cancel", cacheHandlers.CancelCoalesced)

			admin.GET("/logs/levels", systemHandlers.GetLogLevels)
			admin.POST("/logs/levels", systemHandlers.SetLogLevel)
		}
	}

	return r
}
