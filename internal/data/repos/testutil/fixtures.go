package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/kidslab-backend/internal/domain"
)

func SeedRun(tb testing.TB, ctx context.Context, tx *gorm.DB, childID, question string) *domain.Run {
	tb.Helper()
	r := &domain.Run{
		ID:       uuid.New(),
		ChildID:  childID,
		Question: question,
		ExpertID: string(domain.ExpertScientist),
		Style:    string(domain.StyleDefault),
		Mode:     "parallel",
		Status:   domain.RunStatusRunning,
		Metadata: datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(r).Error; err != nil {
		tb.Fatalf("seed run: %v", err)
	}
	return r
}

func SeedRunStep(tb testing.TB, ctx context.Context, tx *gorm.DB, runID uuid.UUID, order int) *domain.RunStep {
	tb.Helper()
	s := &domain.RunStep{
		ID:              uuid.New(),
		RunID:           runID,
		SceneID:         fmt.Sprintf("scene_%d", order),
		Order:           order,
		Script:          "step",
		ImagePromptUsed: "a blue sky",
		ImageHint:       "a blue sky",
		Status:          string(domain.PairReady),
		CreatedAt:       time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed run step: %v", err)
	}
	return s
}
