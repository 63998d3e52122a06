package generative

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/kidslab-backend/internal/platform/anthropic"
	"github.com/yungbote/kidslab-backend/internal/platform/envutil"
	"github.com/yungbote/kidslab-backend/internal/platform/gemini"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
	"github.com/yungbote/kidslab-backend/internal/platform/openai"
	"github.com/yungbote/kidslab-backend/internal/platform/polly"
)

// FromEnv builds the unscheduled backends selected by TEXT_PROVIDER,
// IMAGE_PROVIDER and SPEECH_PROVIDER (all default to gemini).
func FromEnv(ctx context.Context, log *logger.Logger) (Backends, error) {
	r := &resolver{ctx: ctx, log: log}
	var (
		out Backends
		err error
	)
	textProvider := provider("TEXT_PROVIDER")
	switch textProvider {
	case ProviderGemini:
		out.Text, _, _, err = r.gemini()
	case ProviderOpenAI:
		out.Text, _, _, err = r.openai()
	case ProviderAnthropic:
		var c *anthropic.Client
		if c, err = anthropic.NewClient(log, anthropic.ConfigFromEnv()); err == nil {
			out.Text = NewAnthropic(c)
		}
	default:
		err = fmt.Errorf("unsupported TEXT_PROVIDER %q", textProvider)
	}
	if err != nil {
		return Backends{}, fmt.Errorf("text backend: %w", err)
	}

	imageProvider := provider("IMAGE_PROVIDER")
	switch imageProvider {
	case ProviderGemini:
		_, out.Image, _, err = r.gemini()
	case ProviderOpenAI:
		_, out.Image, _, err = r.openai()
	default:
		err = fmt.Errorf("unsupported IMAGE_PROVIDER %q", imageProvider)
	}
	if err != nil {
		return Backends{}, fmt.Errorf("image backend: %w", err)
	}

	speechProvider := provider("SPEECH_PROVIDER")
	switch speechProvider {
	case ProviderGemini:
		_, _, out.Speech, err = r.gemini()
	case ProviderOpenAI:
		_, _, out.Speech, err = r.openai()
	case ProviderPolly:
		var c *polly.Client
		if c, err = polly.NewClient(log, polly.ConfigFromEnv()); err == nil {
			out.Speech = NewPolly(c)
		}
	default:
		err = fmt.Errorf("unsupported SPEECH_PROVIDER %q", speechProvider)
	}
	if err != nil {
		return Backends{}, fmt.Errorf("speech backend: %w", err)
	}

	log.Info("generative backends configured",
		"text", out.Text.Provider(),
		"image", out.Image.Provider(),
		"speech", out.Speech.Provider(),
	)
	return out, nil
}

func provider(name string) string {
	return strings.ToLower(envutil.String(name, ProviderGemini))
}

// resolver shares one client per provider across the three backends.
type resolver struct {
	ctx context.Context
	log *logger.Logger

	gem    *gemini.Client
	gemErr error
	oai    *openai.Client
	oaiErr error
}

func (r *resolver) gemini() (TextModel, ImageModel, SpeechModel, error) {
	if r.gem == nil && r.gemErr == nil {
		r.gem, r.gemErr = gemini.NewClient(r.ctx, r.log, gemini.ConfigFromEnv())
	}
	if r.gemErr != nil {
		return nil, nil, nil, r.gemErr
	}
	t, i, s := NewGemini(r.gem)
	return t, i, s, nil
}

func (r *resolver) openai() (TextModel, ImageModel, SpeechModel, error) {
	if r.oai == nil && r.oaiErr == nil {
		r.oai, r.oaiErr = openai.NewClient(r.log, openai.ConfigFromEnv())
	}
	if r.oaiErr != nil {
		return nil, nil, nil, r.oaiErr
	}
	t, i, s := NewOpenAI(r.oai)
	return t, i, s, nil
}
