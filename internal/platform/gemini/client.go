package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/yungbote/kidslab-backend/internal/platform/envutil"
	"github.com/yungbote/kidslab-backend/internal/platform/httpx"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

const (
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
	aiStudioBaseURL    = "https://generativelanguage.googleapis.com/v1beta"

	// SpeechSampleRate is the PCM rate returned by the TTS models.
	SpeechSampleRate = 24000
)

var ErrNoInlineData = errors.New("gemini: response has no inline data")

type Config struct {
	APIKey     string
	Project    string
	Location   string
	BaseURL    string
	TextModel  string
	ImageModel string
	TTSModel   string
	MaxRetries int
	Timeout    time.Duration
	// TokenSource authenticates Vertex calls when APIKey is empty.
	TokenSource oauth2.TokenSource
}

// ConfigFromEnv reads GEMINI_* and VERTEX_AI_* variables.
func ConfigFromEnv() Config {
	return Config{
		APIKey:     envutil.String("GEMINI_API_KEY", ""),
		Project:    envutil.String("VERTEX_AI_PROJECT", ""),
		Location:   envutil.String("VERTEX_AI_LOCATION", "asia-northeast1"),
		BaseURL:    envutil.String("GEMINI_BASE_URL", ""),
		TextModel:  envutil.String("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),
		ImageModel: envutil.String("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		TTSModel:   envutil.String("GEMINI_TTS_MODEL", "gemini-2.5-flash-tts"),
		MaxRetries: envutil.Int("GEMINI_MAX_RETRIES", 2),
		Timeout:    envutil.Duration("GEMINI_TIMEOUT", 120*time.Second),
	}
}

type Client struct {
	log        *logger.Logger
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

func NewClient(ctx context.Context, log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	switch {
	case base != "":
	case cfg.APIKey != "":
		base = aiStudioBaseURL
	case cfg.Project != "":
		base = fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google",
			cfg.Location, cfg.Project, cfg.Location)
	default:
		return nil, fmt.Errorf("gemini: set GEMINI_API_KEY or VERTEX_AI_PROJECT")
	}
	if cfg.APIKey == "" && cfg.TokenSource == nil {
		ts, err := defaultTokenSource(ctx)
		if err != nil {
			return nil, fmt.Errorf("gemini: vertex credentials: %w", err)
		}
		cfg.TokenSource = ts
	}
	return &Client{
		log:        log.With("service", "GeminiClient"),
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func defaultTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	raw := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if strings.HasPrefix(raw, "{") {
		creds, err := google.CredentialsFromJSON(ctx, []byte(raw), cloudPlatformScope)
		if err != nil {
			return nil, err
		}
		return creds.TokenSource, nil
	}
	return google.DefaultTokenSource(ctx, cloudPlatformScope)
}

// ---- wire types ----

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type GenerationConfig struct {
	Temperature        *float64      `json:"temperature,omitempty"`
	ResponseMimeType   string        `json:"responseMimeType,omitempty"`
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	ImageConfig        *ImageConfig  `json:"imageConfig,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

type ImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type GenerateContentRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

type GenerateContentResponse struct {
	Candidates []struct {
		Content      Content `json:"content"`
		FinishReason string  `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

// FirstText returns the text of the first candidate's first text part.
func (r *GenerateContentResponse) FirstText() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	for _, p := range r.Candidates[0].Content.Parts {
		if p.Text != "" {
			return p.Text
		}
	}
	return ""
}

// FirstInline returns the first inline part of the first candidate.
func (r *GenerateContentResponse) FirstInline() *InlineData {
	if r == nil || len(r.Candidates) == 0 {
		return nil
	}
	for _, p := range r.Candidates[0].Content.Parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			return p.InlineData
		}
	}
	return nil
}

// ---- operations ----

// GenerateText sends a single-candidate text request.
func (c *Client) GenerateText(ctx context.Context, system string, contents []Content, temperature float64, jsonMode bool) (string, error) {
	req := GenerateContentRequest{
		Contents:         contents,
		GenerationConfig: &GenerationConfig{Temperature: &temperature},
	}
	if strings.TrimSpace(system) != "" {
		req.SystemInstruction = &Content{Parts: []Part{{Text: system}}}
	}
	if jsonMode {
		req.GenerationConfig.ResponseMimeType = "application/json"
	}
	resp, err := c.GenerateContent(ctx, c.cfg.TextModel, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.FirstText())
	if text == "" {
		return "", fmt.Errorf("gemini: no content generated")
	}
	return text, nil
}

// GenerateImage returns the decoded inline image, or ErrNoInlineData.
func (c *Client) GenerateImage(ctx context.Context, prompt, aspectRatio string) (string, []byte, error) {
	req := GenerateContentRequest{
		Contents: []Content{{Role: "user", Parts: []Part{{Text: prompt}}}},
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []string{"IMAGE"},
		},
	}
	if aspectRatio != "" {
		req.GenerationConfig.ImageConfig = &ImageConfig{AspectRatio: aspectRatio}
	}
	resp, err := c.GenerateContent(ctx, c.cfg.ImageModel, req)
	if err != nil {
		return "", nil, err
	}
	inline := resp.FirstInline()
	if inline == nil {
		return "", nil, ErrNoInlineData
	}
	raw, err := base64.StdEncoding.DecodeString(inline.Data)
	if err != nil {
		return "", nil, fmt.Errorf("gemini: decode image: %w", err)
	}
	return inline.MimeType, raw, nil
}

// Synthesize returns raw 16-bit mono PCM at SpeechSampleRate.
func (c *Client) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	req := GenerateContentRequest{
		Contents:         []Content{{Role: "user", Parts: []Part{{Text: text}}}},
		GenerationConfig: &GenerationConfig{ResponseModalities: []string{"AUDIO"}, SpeechConfig: &SpeechConfig{}},
	}
	req.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = voice
	resp, err := c.GenerateContent(ctx, c.cfg.TTSModel, req)
	if err != nil {
		return nil, err
	}
	inline := resp.FirstInline()
	if inline == nil {
		return nil, ErrNoInlineData
	}
	raw, err := base64.StdEncoding.DecodeString(inline.Data)
	if err != nil {
		return nil, fmt.Errorf("gemini: decode audio: %w", err)
	}
	return raw, nil
}

// GenerateContent calls models/{model}:generateContent with retry on transient failures.
func (c *Client) GenerateContent(ctx context.Context, model string, req GenerateContentRequest) (*GenerateContentResponse, error) {
	path := fmt.Sprintf("/models/%s:generateContent", model)
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, raw, err := c.doOnce(ctx, path, req)
		if err == nil {
			var out GenerateContentResponse
			if uErr := json.Unmarshal(raw, &out); uErr != nil {
				return nil, fmt.Errorf("gemini decode error: %w", uErr)
			}
			return &out, nil
		}
		if !httpx.IsRetryableError(err) || attempt == c.cfg.MaxRetries {
			return nil, err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("Gemini request retrying",
			"model", model,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("unreachable retry loop")
}

func (c *Client) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	} else if c.cfg.TokenSource != nil {
		tok, err := c.cfg.TokenSource.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("gemini: access token: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpx.StatusError{Service: "gemini", StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}
