package pipeline

import (
	"fmt"

	"github.com/yungbote/kidslab-backend/internal/domain"
)

// PairID is the per-run stable id of a step's pair.
func PairID(runID string, stepNumber int) string {
	return fmt.Sprintf("%s:%d", runID, stepNumber)
}

// StepsToPairs wraps steps in pairs marked generating, in order.
func StepsToPairs(runID string, steps []domain.ExplanationStep) []domain.SentenceImagePair {
	out := make([]domain.SentenceImagePair, 0, len(steps))
	for _, s := range steps {
		out = append(out, domain.SentenceImagePair{
			ExplanationStep: s,
			ID:              PairID(runID, s.StepNumber),
			Status:          domain.PairGenerating,
		})
	}
	return out
}

// PairsToSteps drops media and status, keeping order.
func PairsToSteps(pairs []domain.SentenceImagePair) []domain.ExplanationStep {
	out := make([]domain.ExplanationStep, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.ExplanationStep)
	}
	return out
}
