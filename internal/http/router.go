package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/lumenchat/lumen-backend/internal/http/handlers"
	httpMW "github.com/lumenchat/lumen-backend/internal/http/middleware"
	"github.com/lumenchat/lumen-backend/internal/observability"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	AuthMiddleware *httpMW.AuthMiddleware

	ChatHandler     *httpH.ChatHandler
	StreamHandler   *httpH.StreamHandler
	RealtimeHandler *httpH.RealtimeHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}
	if cfg.Metrics != nil {
		r.Use(httpMW.Metrics(cfg.Metrics))
	}
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	protected := r.Group("/api")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			protected.GET("/sse/stream", cfg.RealtimeHandler.SSEStream)
			protected.POST("/sse/subscribe", cfg.RealtimeHandler.SSESubscribe)
			protected.POST("/sse/unsubscribe", cfg.RealtimeHandler.SSEUnsubscribe)
		}

		// Threads and messages
		if cfg.ChatHandler != nil {
			protected.POST("/threads", cfg.ChatHandler.CreateThread)
			protected.GET("/threads", cfg.ChatHandler.ListThreads)
			protected.GET("/threads/:id", cfg.ChatHandler.GetThread)
			protected.GET("/threads/:id/messages", cfg.ChatHandler.ListMessages)
			protected.POST("/threads/:id/messages", cfg.ChatHandler.SendMessage)
		}

		// Streams
		if cfg.StreamHandler != nil {
			protected.GET("/streams/:id", cfg.StreamHandler.GetStream)
			protected.GET("/streams/:id/live", cfg.StreamHandler.Live)
			protected.GET("/streams/:id/continue", cfg.StreamHandler.Continue)
		}
	}

	return r
}
