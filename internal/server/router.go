package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/edforge/edforge-backend/internal/handlers"
	"github.com/edforge/edforge-backend/internal/middleware"
	"github.com/edforge/edforge-backend/internal/utils"
)

type RouterConfig struct {
	ServiceName       string
	GenerationHandler *handlers.GenerationHandler
	RealtimeHandler   *handlers.RealtimeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", middleware.UserIDHeader},
		AllowCredentials: true,
	}))

	// Public
	router.GET("/healthcheck", handlers.HealthCheck)

	// Protected
	protected := router.Group("/")
	protected.Use(middleware.RequireIdentity())

	api := protected.Group("/api")
	{
		api.POST("/generations", cfg.GenerationHandler.Create)
		api.GET("/generations", cfg.GenerationHandler.List)
		api.GET("/generations/:id", cfg.GenerationHandler.Get)
		api.GET("/generations/:id/logs", cfg.GenerationHandler.Logs)
		api.POST("/generations/:id/retry", cfg.GenerationHandler.Retry)
		api.POST("/generations/:id/stop", cfg.GenerationHandler.Stop)
	}

	protected.GET("/sse/stream", cfg.RealtimeHandler.Stream)
	protected.POST("/sse/subscribe", cfg.RealtimeHandler.Subscribe)
	protected.POST("/sse/unsubscribe", cfg.RealtimeHandler.Unsubscribe)

	return router
}

func allowedOrigins() []string {
	raw := utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173", nil)
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
