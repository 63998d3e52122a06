package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/kidslab-backend/internal/http/handlers"
	httpMW "github.com/yungbote/kidslab-backend/internal/http/middleware"
	"github.com/yungbote/kidslab-backend/internal/observability"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	CORSOrigins    []string
	Metrics        *observability.Metrics
	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler     *httpH.HealthHandler
	ExpertsHandler    *httpH.ExpertsHandler
	GenerationHandler *httpH.GenerationHandler
	TranscribeHandler *httpH.TranscribeHandler
	RunsHandler       *httpH.RunsHandler
	RealtimeHandler   *httpH.RealtimeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	protected := r.Group("/api")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireChild())
		}

		// Experts
		if cfg.ExpertsHandler != nil {
			protected.GET("/experts", cfg.ExpertsHandler.List)
			protected.GET("/experts/:id/avatar.png", cfg.ExpertsHandler.Avatar)
		}

		// Generation
		if cfg.GenerationHandler != nil {
			protected.POST("/experts/select", cfg.GenerationHandler.SelectExpert)
			protected.POST("/responses", cfg.GenerationHandler.GenerateResponse)
			protected.POST("/speech", cfg.GenerationHandler.Speech)
			protected.POST("/step-images", cfg.GenerationHandler.StepImage)
			protected.POST("/step-audio", cfg.GenerationHandler.StepAudio)
		}

		if cfg.TranscribeHandler != nil {
			protected.POST("/transcribe", cfg.TranscribeHandler.Transcribe)
		}

		// Run history
		if cfg.RunsHandler != nil {
			protected.GET("/runs", cfg.RunsHandler.List)
			protected.GET("/runs/:id", cfg.RunsHandler.Get)
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			protected.GET("/sse/stream", cfg.RealtimeHandler.SSEStream)
			protected.POST("/sse/subscribe", cfg.RealtimeHandler.SSESubscribe)
			protected.POST("/sse/unsubscribe", cfg.RealtimeHandler.SSEUnsubscribe)
		}
	}

	return r
}
