package app

import (
	"fmt"

	"github.com/yungbote/kidslab-backend/internal/data/repos"
	"github.com/yungbote/kidslab-backend/internal/modules/experts"
	"github.com/yungbote/kidslab-backend/internal/modules/generation"
	"github.com/yungbote/kidslab-backend/internal/modules/media"
	"github.com/yungbote/kidslab-backend/internal/modules/pipeline"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
	"github.com/yungbote/kidslab-backend/internal/realtime"
	"github.com/yungbote/kidslab-backend/internal/services"
)

type Services struct {
	Catalog  *experts.Catalog
	Avatars  *media.AvatarRenderer
	Events   *services.EventEmitter
	RunLog   *services.RunLogService
	RunRepo  repos.RunRepo
	Pipeline *pipeline.Orchestrator
}

func wireServices(log *logger.Logger, cfg Config, clients *Clients, hub *realtime.SSEHub) (Services, error) {
	log.Info("Wiring services...")
	catalog := experts.MustLoad(log)

	avatars, err := media.NewAvatarRenderer(log, cfg.AvatarFont)
	if err != nil {
		return Services{}, fmt.Errorf("init avatar renderer: %w", err)
	}

	out := Services{
		Catalog: catalog,
		Avatars: avatars,
		Events:  services.NewEventEmitter(log, hub, clients.Bus),
	}

	deps := pipeline.Deps{
		Log:       log,
		Catalog:   catalog,
		Selector:  generation.NewSelector(log, clients.Backends.Text, catalog),
		Explainer: generation.NewExplainer(log, clients.Backends.Text, catalog),
		Reviewer:  generation.NewReviewer(log, clients.Backends.Text, catalog),
		FollowUps: generation.NewFollowUps(log, clients.Backends.Text, catalog),
		Visual:    media.NewVisual(log, clients.Backends.Image, clients.Backends.Text),
		Speech:    media.NewSpeech(log, clients.Backends.Speech),
		Events:    out.Events,
	}

	if clients.Store != nil {
		out.RunRepo = repos.NewRunRepo(clients.Store.DB(), log)
		var store services.MediaStore
		if clients.Bucket != nil {
			store = clients.Bucket
		}
		out.RunLog = services.NewRunLogService(clients.Store.DB(), log, out.RunRepo, store)
		deps.Runs = out.RunLog
	}

	orch, err := pipeline.New(deps)
	if err != nil {
		return Services{}, fmt.Errorf("init pipeline: %w", err)
	}
	out.Pipeline = orch
	return out, nil
}
