package app

import (
	khttp "github.com/yungbote/kidslab-backend/internal/http"
	httpH "github.com/yungbote/kidslab-backend/internal/http/handlers"
	httpMW "github.com/yungbote/kidslab-backend/internal/http/middleware"
	"github.com/yungbote/kidslab-backend/internal/observability"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
	"github.com/yungbote/kidslab-backend/internal/realtime"
)

type Handlers struct {
	Health     *httpH.HealthHandler
	Experts    *httpH.ExpertsHandler
	Generation *httpH.GenerationHandler
	Transcribe *httpH.TranscribeHandler
	Runs       *httpH.RunsHandler
	Realtime   *httpH.RealtimeHandler
}

func wireHandlers(log *logger.Logger, cfg Config, clients *Clients, svc Services, hub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	h := Handlers{
		Health:     httpH.NewHealthHandler(nil),
		Experts:    httpH.NewExpertsHandler(log, svc.Catalog, svc.Avatars),
		Generation: httpH.NewGenerationHandler(log, svc.Pipeline, cfg.GenerationMode),
		Transcribe: httpH.NewTranscribeHandler(log, nil),
		Runs:       httpH.NewRunsHandler(log, svc.RunRepo),
		Realtime:   httpH.NewRealtimeHandler(log, hub),
	}
	if clients.Store != nil {
		h.Health = httpH.NewHealthHandler(clients.Store.DB())
	}
	if clients.Transcriber != nil {
		h.Transcribe = httpH.NewTranscribeHandler(log, clients.Transcriber)
	}
	return h
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *khttp.Server {
	return khttp.NewServer(":"+cfg.Port, khttp.RouterConfig{
		Log:               log,
		ServiceName:       cfg.ServiceName,
		CORSOrigins:       cfg.CORSOrigins,
		Metrics:           metrics,
		AuthMiddleware:    httpMW.NewAuthMiddleware(log, cfg.AuthSecret),
		HealthHandler:     handlers.Health,
		ExpertsHandler:    handlers.Experts,
		GenerationHandler: handlers.Generation,
		TranscribeHandler: handlers.Transcribe,
		RunsHandler:       handlers.Runs,
		RealtimeHandler:   handlers.Realtime,
	})
}
