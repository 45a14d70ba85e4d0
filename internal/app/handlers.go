package app

import (
	"github.com/gin-gonic/gin"

	"github.com/edforge/edforge-backend/internal/handlers"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/server"
	"github.com/edforge/edforge-backend/internal/sse"
)

type Handlers struct {
	Generation *handlers.GenerationHandler
	Realtime   *handlers.RealtimeHandler
}

func wireHandlers(log *logger.Logger, svcs Services, hub *sse.Hub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Generation: handlers.NewGenerationHandler(log, svcs.Generation),
		Realtime:   handlers.NewRealtimeHandler(log, hub),
	}
}

func wireRouter(cfg Config, h Handlers) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		ServiceName:       cfg.ServiceName,
		GenerationHandler: h.Generation,
		RealtimeHandler:   h.Realtime,
	})
}
