package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	jetai "go.jetify.com/ai"
	jetapi "go.jetify.com/ai/api"
	jetanthropic "go.jetify.com/ai/provider/anthropic"

	"github.com/yungbote/kidslab-backend/internal/platform/envutil"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

const jsonOnlyInstruction = "Respond with a single JSON object and nothing else."

type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	MaxOutputTokens int
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:          envutil.String("ANTHROPIC_API_KEY", ""),
		BaseURL:         envutil.String("ANTHROPIC_BASE_URL", ""),
		Model:           envutil.String("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		MaxOutputTokens: envutil.Int("ANTHROPIC_MAX_OUTPUT_TOKENS", 2048),
	}
}

// Message is a role-tagged prompt entry. Role is system, user or assistant.
type Message struct {
	Role string
	Text string
}

type Client struct {
	log       *logger.Logger
	model     jetapi.LanguageModel
	maxTokens int
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}
	modelID := strings.TrimSpace(cfg.Model)
	if modelID == "" {
		modelID = "claude-sonnet-4-5"
	}
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(apiKey),
		anthropicoption.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, anthropicoption.WithBaseURL(strings.TrimRight(base, "/")))
	}
	client := anthropicclient.NewClient(opts...)
	maxTokens := cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Client{
		log:       log.With("service", "AnthropicClient", "model", modelID),
		model:     jetanthropic.NewLanguageModel(modelID, jetanthropic.WithClient(client)),
		maxTokens: maxTokens,
	}, nil
}

// GenerateText runs one non-streaming completion. The Messages API has no JSON
// response mode, so jsonMode adds an instruction to the system prompt.
func (c *Client) GenerateText(ctx context.Context, messages []Message, jsonMode bool) (string, error) {
	prompt := BuildMessages(messages, jsonMode)
	if len(prompt) == 0 {
		return "", errors.New("messages required")
	}
	resp, err := jetai.GenerateText(ctx, prompt,
		jetai.WithModel(c.model),
		jetai.WithMaxOutputTokens(c.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("anthropic generate: %w", err)
	}
	return ExtractText(resp)
}

func BuildMessages(messages []Message, jsonMode bool) []jetapi.Message {
	var system []string
	out := make([]jetapi.Message, 0, len(messages)+1)
	for _, m := range messages {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		switch strings.ToLower(m.Role) {
		case "system":
			system = append(system, text)
		case "assistant", "model":
			// Prompts carry history inline; earlier answers are quoted back as user context.
			out = append(out, &jetapi.UserMessage{Content: jetapi.ContentFromText("assistant: " + text)})
		default:
			out = append(out, &jetapi.UserMessage{Content: jetapi.ContentFromText(text)})
		}
	}
	if jsonMode {
		system = append(system, jsonOnlyInstruction)
	}
	if len(out) == 0 {
		return nil
	}
	if len(system) > 0 {
		out = append([]jetapi.Message{&jetapi.SystemMessage{Content: strings.Join(system, "\n\n")}}, out...)
	}
	return out
}

func ExtractText(resp *jetapi.Response) (string, error) {
	if resp == nil {
		return "", errors.New("empty response from anthropic")
	}
	var full strings.Builder
	for _, block := range resp.Content {
		textBlock, ok := block.(*jetapi.TextBlock)
		if !ok || textBlock.Text == "" {
			continue
		}
		full.WriteString(textBlock.Text)
	}
	text := strings.TrimSpace(full.String())
	if text == "" {
		return "", errors.New("empty response from anthropic")
	}
	return text, nil
}
