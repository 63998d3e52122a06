package pipeline

import (
	"context"
	"strings"

	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/modules/media"
	"github.com/yungbote/kidslab-backend/internal/observability"
)

// SynthesizeSpeech narrates text in the expert's voice. It returns false
// instead of an error; callers treat missing audio as silence.
func (o *Orchestrator) SynthesizeSpeech(ctx context.Context, agent domain.ExpertID, text string) (string, bool) {
	return o.speak(ctx, agent, text, "")
}

// SynthesizeStepAudio narrates one pair. No retry: the background worker
// marks the pair as failed and moves on.
func (o *Orchestrator) SynthesizeStepAudio(ctx context.Context, pairID string, agent domain.ExpertID, text string) (string, bool) {
	return o.speak(ctx, agent, text, pairID)
}

// SynthesizeStepImage draws one pair's illustration with retry.
func (o *Orchestrator) SynthesizeStepImage(ctx context.Context, pairID, visualDescription string) domain.StepImageResult {
	return o.deps.Visual.SynthesizeStepImage(ctx, pairID, media.BuildStepImagePrompt(visualDescription))
}

func (o *Orchestrator) speak(ctx context.Context, agent domain.ExpertID, text, pairID string) (string, bool) {
	sp := o.deps.Speech
	if sp == nil || strings.TrimSpace(text) == "" {
		return "", false
	}
	voice := o.deps.Catalog.Get(agent).Voice(sp.Provider())
	audio, err := sp.Synthesize(ctx, text, voice)
	if err != nil {
		o.log.Warn("speech synthesis failed", "pair_id", pairID, "agent", agent, "error", err)
		observability.Current().IncStepMedia("audio", "error")
		return "", false
	}
	observability.Current().IncStepMedia("audio", "ready")
	return audio, true
}
