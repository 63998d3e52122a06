package runs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/platform/dbctx"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

const maxListLimit = 100

type RunRepo interface {
	Create(dbc dbctx.Context, run *domain.Run) (*domain.Run, error)
	AppendStep(dbc dbctx.Context, step *domain.RunStep) error
	Complete(dbc dbctx.Context, id uuid.UUID, completedAt time.Time, updates map[string]interface{}) error
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Run, error)
	ListByChild(dbc dbctx.Context, childID string, limit int) ([]*domain.Run, error)
	ListSteps(dbc dbctx.Context, runID uuid.UUID) ([]*domain.RunStep, error)
}

type runRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo {
	return &runRepo{
		db:  db,
		log: baseLog.With("repo", "RunRepo"),
	}
}

func (r *runRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *runRepo) Create(dbc dbctx.Context, run *domain.Run) (*domain.Run, error) {
	if run == nil {
		return nil, fmt.Errorf("run required")
	}
	if run.ChildID == "" {
		return nil, fmt.Errorf("run child_id required")
	}
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}
	if err := r.tx(dbc).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *runRepo) AppendStep(dbc dbctx.Context, step *domain.RunStep) error {
	if step == nil || step.RunID == uuid.Nil {
		return fmt.Errorf("run step requires run_id")
	}
	return r.tx(dbc).Transaction(func(txx *gorm.DB) error {
		if err := txx.Create(step).Error; err != nil {
			return err
		}
		return txx.Model(&domain.Run{}).
			Where("id = ?", step.RunID).
			Updates(map[string]interface{}{
				"step_count": gorm.Expr("step_count + 1"),
				"updated_at": time.Now().UTC(),
			}).Error
	})
}

// Complete marks a running run completed. Completing twice is a no-op.
func (r *runRepo) Complete(dbc dbctx.Context, id uuid.UUID, completedAt time.Time, updates map[string]interface{}) error {
	fields := map[string]interface{}{}
	for k, v := range updates {
		fields[k] = v
	}
	fields["status"] = domain.RunStatusCompleted
	fields["completed_at"] = completedAt.UTC()
	fields["updated_at"] = time.Now().UTC()
	return r.tx(dbc).Model(&domain.Run{}).
		Where("id = ? AND status <> ?", id, domain.RunStatusCompleted).
		Updates(fields).Error
}

func (r *runRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return r.tx(dbc).Model(&domain.Run{}).Where("id = ?", id).Updates(updates).Error
}

func (r *runRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Run, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out domain.Run
	if err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

// ListByChild returns the child's runs, newest first.
func (r *runRepo) ListByChild(dbc dbctx.Context, childID string, limit int) ([]*domain.Run, error) {
	var out []*domain.Run
	if childID == "" {
		return out, nil
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	if err := r.tx(dbc).
		Where("child_id = ?", childID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *runRepo) ListSteps(dbc dbctx.Context, runID uuid.UUID) ([]*domain.RunStep, error) {
	var out []*domain.RunStep
	if runID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).
		Where("run_id = ?", runID).
		Order("step_order ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
