package generative

import (
	"context"
	"errors"

	"github.com/yungbote/kidslab-backend/internal/platform/anthropic"
	"github.com/yungbote/kidslab-backend/internal/platform/gemini"
	"github.com/yungbote/kidslab-backend/internal/platform/openai"
	"github.com/yungbote/kidslab-backend/internal/platform/polly"
)

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderPolly     = "polly"
)

// ---- gemini ----

type geminiModels struct{ c *gemini.Client }

func NewGemini(c *gemini.Client) (TextModel, ImageModel, SpeechModel) {
	m := geminiModels{c: c}
	return geminiText(m), geminiImage(m), geminiSpeech(m)
}

type geminiText geminiModels

func (geminiText) Provider() string { return ProviderGemini }

func (g geminiText) Complete(ctx context.Context, req TextRequest) (string, error) {
	var system string
	contents := make([]gemini.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Text
		case RoleAssistant:
			contents = append(contents, gemini.Content{Role: "model", Parts: []gemini.Part{{Text: m.Text}}})
		default:
			contents = append(contents, gemini.Content{Role: "user", Parts: []gemini.Part{{Text: m.Text}}})
		}
	}
	return g.c.GenerateText(ctx, system, contents, req.Temperature, req.JSON)
}

type geminiImage geminiModels

func (geminiImage) Provider() string { return ProviderGemini }

func (g geminiImage) Generate(ctx context.Context, req ImageRequest) (*InlineImage, error) {
	mime, data, err := g.c.GenerateImage(ctx, req.Prompt, req.AspectRatio)
	if errors.Is(err, gemini.ErrNoInlineData) {
		return nil, ErrNoInlineData
	}
	if err != nil {
		return nil, err
	}
	return &InlineImage{MimeType: mime, Data: data}, nil
}

type geminiSpeech geminiModels

func (geminiSpeech) Provider() string { return ProviderGemini }

func (g geminiSpeech) Synthesize(ctx context.Context, req SpeechRequest) (*PCM, error) {
	raw, err := g.c.Synthesize(ctx, req.Text, req.Voice)
	if errors.Is(err, gemini.ErrNoInlineData) {
		return nil, ErrNoInlineData
	}
	if err != nil {
		return nil, err
	}
	return &PCM{Samples: raw, SampleRate: gemini.SpeechSampleRate}, nil
}

// ---- openai ----

type openaiModels struct{ c *openai.Client }

func NewOpenAI(c *openai.Client) (TextModel, ImageModel, SpeechModel) {
	m := openaiModels{c: c}
	return openaiText(m), openaiImage(m), openaiSpeech(m)
}

type openaiText openaiModels

func (openaiText) Provider() string { return ProviderOpenAI }

func (o openaiText) Complete(ctx context.Context, req TextRequest) (string, error) {
	msgs := make([]openai.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.Message{Role: string(m.Role), Content: m.Text})
	}
	return o.c.GenerateText(ctx, msgs, req.Temperature, req.JSON)
}

type openaiImage openaiModels

func (openaiImage) Provider() string { return ProviderOpenAI }

func (o openaiImage) Generate(ctx context.Context, req ImageRequest) (*InlineImage, error) {
	img, err := o.c.GenerateImage(ctx, req.Prompt)
	if err != nil {
		return nil, err
	}
	if len(img.Bytes) == 0 {
		return nil, ErrNoInlineData
	}
	return &InlineImage{MimeType: img.MimeType, Data: img.Bytes}, nil
}

type openaiSpeech openaiModels

func (openaiSpeech) Provider() string { return ProviderOpenAI }

func (o openaiSpeech) Synthesize(ctx context.Context, req SpeechRequest) (*PCM, error) {
	raw, err := o.c.Synthesize(ctx, req.Text, req.Voice)
	if err != nil {
		return nil, err
	}
	return &PCM{Samples: raw, SampleRate: openai.PCMSampleRate}, nil
}

// ---- anthropic (text only) ----

type anthropicText struct{ c *anthropic.Client }

func NewAnthropic(c *anthropic.Client) TextModel { return anthropicText{c: c} }

func (anthropicText) Provider() string { return ProviderAnthropic }

// Complete ignores Temperature; the model's default sampling is used.
func (a anthropicText) Complete(ctx context.Context, req TextRequest) (string, error) {
	msgs := make([]anthropic.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, anthropic.Message{Role: string(m.Role), Text: m.Text})
	}
	return a.c.GenerateText(ctx, msgs, req.JSON)
}

// ---- polly (speech only) ----

type pollySpeech struct{ c *polly.Client }

func NewPolly(c *polly.Client) SpeechModel { return pollySpeech{c: c} }

func (pollySpeech) Provider() string { return ProviderPolly }

func (p pollySpeech) Synthesize(ctx context.Context, req SpeechRequest) (*PCM, error) {
	raw, err := p.c.Synthesize(ctx, req.Text, req.Voice)
	if errors.Is(err, polly.ErrEmptyAudio) {
		return nil, ErrNoInlineData
	}
	if err != nil {
		return nil, err
	}
	return &PCM{Samples: raw, SampleRate: polly.SampleRate}, nil
}
