package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/kidslab-backend/internal/data/repos/runs"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

type RunRepo = runs.RunRepo

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo { return runs.NewRunRepo(db, baseLog) }
