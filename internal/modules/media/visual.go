package media

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/modules/generative"
	"github.com/yungbote/kidslab-backend/internal/observability"
	"github.com/yungbote/kidslab-backend/internal/platform/httpx"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

const (
	AspectRatio = "4:3"

	// StepImageRetries is the number of retries after the first attempt.
	StepImageRetries = 2

	singlePromptTemperature = 0.5
)

// Visual turns prompts into inline image data URLs.
type Visual struct {
	log   *logger.Logger
	image generative.ImageModel
	text  generative.TextModel

	// Sleep waits between step image attempts.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewVisual(log *logger.Logger, image generative.ImageModel, text generative.TextModel) *Visual {
	return &Visual{
		log:   log.With("service", "VisualSynthesizer"),
		image: image,
		text:  text,
		Sleep: httpx.Sleep,
	}
}

// SynthesizeImage never fails; ok is false when no image was produced.
func (v *Visual) SynthesizeImage(ctx context.Context, prompt string) (string, bool) {
	url, err := v.generate(ctx, prompt)
	if err != nil {
		v.log.Warn("image synthesis failed", "error", err)
		return "", false
	}
	return url, true
}

func (v *Visual) generate(ctx context.Context, prompt string) (string, error) {
	if v.image == nil {
		return "", fmt.Errorf("no image model")
	}
	img, err := v.image.Generate(ctx, generative.ImageRequest{Prompt: prompt, AspectRatio: AspectRatio})
	if err != nil {
		return "", err
	}
	if img == nil || len(img.Data) == 0 {
		return "", generative.ErrNoInlineData
	}
	mime := img.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return DataURL(mime, img.Data), nil
}

// StepImageDelay is the wait after a failed attempt (0-based): 4s, then 8s.
func StepImageDelay(attempt int) time.Duration {
	return time.Duration(1<<(attempt+2)) * time.Second
}

// SynthesizeStepImage generates one step's image, retrying empty or failed
// results before reporting PairError.
func (v *Visual) SynthesizeStepImage(ctx context.Context, id, prompt string) domain.StepImageResult {
	log := v.log.With("pair_id", id)
	for attempt := 0; attempt <= StepImageRetries; attempt++ {
		url, err := v.generate(ctx, prompt)
		if err == nil {
			observability.Current().IncStepMedia("image", "ready")
			return domain.StepImageResult{ImageURL: &url, Status: domain.PairReady}
		}
		log.Warn("step image attempt failed", "attempt", attempt+1, "max_attempts", StepImageRetries+1, "error", err)
		if attempt == StepImageRetries {
			break
		}
		if err := v.Sleep(ctx, StepImageDelay(attempt)); err != nil {
			break
		}
	}
	observability.Current().IncStepMedia("image", "error")
	return domain.StepImageResult{Status: domain.PairError}
}

// SingleImagePrompt has the text model write an image prompt for a
// summary-only answer, falling back to a fixed template.
func (v *Visual) SingleImagePrompt(ctx context.Context, question, summary string) string {
	fallback := FallbackImagePrompt(question)
	if v.text == nil {
		return fallback
	}
	out, err := v.text.Complete(ctx, generative.UserPrompt(BuildSingleImagePrompt(question, summary), singlePromptTemperature, false))
	if err != nil {
		v.log.Warn("image prompt request failed", "error", err)
		return fallback
	}
	if out = strings.TrimSpace(out); out == "" {
		return fallback
	}
	return out
}
