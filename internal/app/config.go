package app

import (
	"time"

	"github.com/yungbote/kidslab-backend/internal/http/middleware"
	"github.com/yungbote/kidslab-backend/internal/modules/pipeline"
	"github.com/yungbote/kidslab-backend/internal/platform/envutil"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

type Config struct {
	Port           string
	ServiceName    string
	Environment    string
	Version        string
	GenerationMode string
	CORSOrigins    []string

	// AuthSecret signs child tokens; empty disables auth.
	AuthSecret string

	AvatarFont        string
	TranscribeEnabled bool
	MetricsAddr       string
	ShutdownTimeout   time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:              envutil.String("PORT", "8080"),
		ServiceName:       envutil.String("OTEL_SERVICE_NAME", "kidslab-backend"),
		Environment:       envutil.String("APP_ENV", "development"),
		Version:           envutil.String("APP_VERSION", "dev"),
		GenerationMode:    pipeline.ParseMode(envutil.String("GENERATION_MODE", pipeline.ModeParallel), pipeline.ModeParallel),
		CORSOrigins:       envutil.List("CORS_ALLOWED_ORIGINS", middleware.DefaultOrigins),
		AuthSecret:        envutil.String("AUTH_JWT_SECRET", ""),
		AvatarFont:        envutil.String("AVATAR_FONT", ""),
		TranscribeEnabled: envutil.Bool("TRANSCRIBE_ENABLED", false),
		MetricsAddr:       envutil.String("METRICS_ADDR", ""),
		ShutdownTimeout:   envutil.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if cfg.AuthSecret == "" {
		log.Warn("AUTH_JWT_SECRET is not set; every request is served as an anonymous child")
	}
	log.Info("Config loaded",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"generation_mode", cfg.GenerationMode,
		"cors_origins", cfg.CORSOrigins,
		"transcribe", cfg.TranscribeEnabled,
	)
	return cfg
}
