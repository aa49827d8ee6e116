package app

import (
	"github.com/gin-gonic/gin"

	"github.com/lumenchat/lumen-backend/internal/http"
	httpH "github.com/lumenchat/lumen-backend/internal/http/handlers"
	httpMW "github.com/lumenchat/lumen-backend/internal/http/middleware"
	"github.com/lumenchat/lumen-backend/internal/observability"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
	"github.com/lumenchat/lumen-backend/internal/realtime"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health   *httpH.HealthHandler
	Chat     *httpH.ChatHandler
	Stream   *httpH.StreamHandler
	Realtime *httpH.RealtimeHandler
}

func wireHandlers(log *logger.Logger, services Services, sseHub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(),
		Chat:     httpH.NewChatHandler(services.Chat),
		Stream:   httpH.NewStreamHandler(services.Stream, log),
		Realtime: httpH.NewRealtimeHandler(log, sseHub),
	}
}

func wireMiddleware(log *logger.Logger, services Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, services.Auth),
	}
}

func wireRouter(log *logger.Logger, metrics *observability.Metrics, handlers Handlers, middleware Middleware) *gin.Engine {
	return http.NewRouter(http.RouterConfig{
		Log:            log,
		Metrics:        metrics,
		ServiceName:    "lumen-backend",
		AuthMiddleware: middleware.Auth,

		ChatHandler:     handlers.Chat,
		StreamHandler:   handlers.Stream,
		RealtimeHandler: handlers.Realtime,
		HealthHandler:   handlers.Health,
	})
}
