package generative

import (
	"context"
	"errors"
)

// ErrNoInlineData means the backend answered without the requested media.
var ErrNoInlineData = errors.New("generative: no inline data")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role Role
	Text string
}

type TextRequest struct {
	Messages    []Message
	Temperature float64
	// JSON asks the backend for a JSON-only answer.
	JSON bool
}

// UserPrompt is the common single-message request.
func UserPrompt(prompt string, temperature float64, json bool) TextRequest {
	return TextRequest{Messages: []Message{{Role: RoleUser, Text: prompt}}, Temperature: temperature, JSON: json}
}

type InlineImage struct {
	MimeType string
	Data     []byte
}

type ImageRequest struct {
	Prompt      string
	AspectRatio string
}

// PCM is 16-bit little-endian mono audio.
type PCM struct {
	Samples    []byte
	SampleRate int
}

type SpeechRequest struct {
	Text  string
	Voice string
}

type TextModel interface {
	Provider() string
	Complete(ctx context.Context, req TextRequest) (string, error)
}

// ImageModel returns ErrNoInlineData (or a nil image) when the backend produced nothing.
type ImageModel interface {
	Provider() string
	Generate(ctx context.Context, req ImageRequest) (*InlineImage, error)
}

type SpeechModel interface {
	Provider() string
	Synthesize(ctx context.Context, req SpeechRequest) (*PCM, error)
}

// Backends bundles the three models one pipeline uses.
type Backends struct {
	Text   TextModel
	Image  ImageModel
	Speech SpeechModel
}
