package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/kidslab-backend/internal/data/db"
	"github.com/yungbote/kidslab-backend/internal/modules/generative"
	"github.com/yungbote/kidslab-backend/internal/modules/scheduler"
	"github.com/yungbote/kidslab-backend/internal/platform/envutil"
	"github.com/yungbote/kidslab-backend/internal/platform/gcp"
	"github.com/yungbote/kidslab-backend/internal/platform/localmedia"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
	"github.com/yungbote/kidslab-backend/internal/realtime/bus"
	"github.com/yungbote/kidslab-backend/internal/services"
)

// Clients holds connections to everything outside the process. Store, Bucket,
// Bus and Transcriber are nil when not configured.
type Clients struct {
	Backends    generative.Backends
	Scheduler   *scheduler.PriorityQueue
	Store       *db.Service
	Bucket      gcp.Bucket
	Bus         bus.Bus
	Transcriber *services.Transcriber
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (*Clients, error) {
	log.Info("Wiring clients...")
	c := &Clients{}

	raw, err := generative.FromEnv(ctx, log)
	if err != nil {
		return nil, fmt.Errorf("init generative backends: %w", err)
	}
	c.Scheduler = scheduler.NewPriorityQueue(log, scheduler.ConfigFromEnv())
	c.Backends = generative.Schedule(c.Scheduler, raw)

	// Run store
	store, err := db.Open(log, db.ConfigFromEnv())
	switch {
	case errors.Is(err, db.ErrDisabled):
		log.Info("run store disabled")
	case err != nil:
		c.Close()
		return nil, fmt.Errorf("init run store: %w", err)
	default:
		c.Store = store
	}

	// Run media
	if envutil.String("RUN_MEDIA_GCS_BUCKET", "") != "" {
		bucket, err := gcp.NewBucketFromEnv(ctx, log)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("init run media bucket: %w", err)
		}
		c.Bucket = bucket
	}

	// Redis
	if busCfg := bus.ConfigFromEnv(); busCfg.Addr != "" {
		b, err := bus.NewRedisBus(log, busCfg)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("init redis SSE bus: %w", err)
		}
		c.Bus = b
	}

	// Speech-to-text
	if cfg.TranscribeEnabled {
		tr, err := services.NewTranscriber(ctx, log)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("init transcriber: %w", err)
		}
		tools := localmedia.New(log)
		if err := tools.AssertReady(ctx); err != nil {
			log.Warn("ffmpeg unavailable; mp4/aac recordings will be sent unconverted", "error", err)
		} else {
			tr.WithConverter(tools)
		}
		c.Transcriber = tr
	}
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Transcriber != nil {
		_ = c.Transcriber.Close()
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Bucket != nil {
		_ = c.Bucket.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Scheduler != nil {
		c.Scheduler.Close()
	}
}
