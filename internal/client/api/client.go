package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/modules/experts"
	"github.com/yungbote/kidslab-backend/internal/platform/envutil"
	"github.com/yungbote/kidslab-backend/internal/platform/httpx"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

type Config struct {
	BaseURL    string
	Token      string
	MaxRetries int
	Timeout    time.Duration
}

// ConfigFromEnv reads KIDSLAB_API_* variables.
func ConfigFromEnv() Config {
	return Config{
		BaseURL:    envutil.String("KIDSLAB_API_URL", "http://localhost:8080"),
		Token:      envutil.String("KIDSLAB_API_TOKEN", ""),
		MaxRetries: envutil.Int("KIDSLAB_API_MAX_RETRIES", 2),
		Timeout:    envutil.Duration("KIDSLAB_API_TIMEOUT", 180*time.Second),
	}
}

// Error is a decoded {"error":{...}} envelope.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("kidslab api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("kidslab api %d: %s", e.Status, e.Message)
}

func (e *Error) HTTPStatusCode() int { return e.Status }

// IsCode reports whether err is an API error carrying code.
func IsCode(err error, code string) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}

type Client struct {
	log        *logger.Logger
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("kidslab api: base url required")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	return &Client{
		log:        log.With("service", "KidslabAPIClient"),
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type Selection struct {
	AgentID domain.ExpertID `json:"agentId"`
	Reason  string          `json:"reason"`
}

type GenerateRequest struct {
	Question        string                  `json:"question"`
	History         []domain.Turn           `json:"history,omitempty"`
	AgentID         domain.ExpertID         `json:"agentId,omitempty"`
	SelectionReason string                  `json:"selectionReason,omitempty"`
	Style           domain.ExplanationStyle `json:"style,omitempty"`
	Mode            string                  `json:"mode,omitempty"`
	RunID           string                  `json:"runId,omitempty"`
}

type ExpertList struct {
	Experts  []experts.Expert `json:"experts"`
	Default  domain.ExpertID  `json:"default"`
	Reviewer domain.ExpertID  `json:"reviewer"`
}

type audioEnvelope struct {
	AudioData *string `json:"audioData"`
}

// SelectExpert routes a question to one persona.
func (c *Client) SelectExpert(ctx context.Context, q domain.Question) (Selection, error) {
	var out Selection
	err := c.postJSON(ctx, "/api/experts/select", q, &out, c.cfg.MaxRetries)
	return out, err
}

// GenerateResponse runs one pipeline. It is never retried: a failed run is
// reported to the caller, which returns to question entry.
func (c *Client) GenerateResponse(ctx context.Context, req GenerateRequest) (*domain.AgentResponse, error) {
	var out domain.AgentResponse
	if err := c.postJSON(ctx, "/api/responses", req, &out, 0); err != nil {
		return nil, err
	}
	return &out, nil
}

// SynthesizeSpeech returns base64 WAV or nil when narration is unavailable.
func (c *Client) SynthesizeSpeech(ctx context.Context, agent domain.ExpertID, text string) (*string, error) {
	var out audioEnvelope
	err := c.postJSON(ctx, "/api/speech", map[string]string{"text": text, "agentId": string(agent)}, &out, c.cfg.MaxRetries)
	return out.AudioData, err
}

// SynthesizeStepAudio narrates one pair. A nil result is not an error.
func (c *Client) SynthesizeStepAudio(ctx context.Context, pairID string, agent domain.ExpertID, text string) (*string, error) {
	var out audioEnvelope
	body := map[string]string{"id": pairID, "text": text, "agentId": string(agent)}
	err := c.postJSON(ctx, "/api/step-audio", body, &out, 0)
	return out.AudioData, err
}

// SynthesizeStepImage asks the server for one step image. The server retries
// internally, so the call is made once.
func (c *Client) SynthesizeStepImage(ctx context.Context, pairID, visualDescription string) (domain.StepImageResult, error) {
	var out domain.StepImageResult
	body := map[string]string{"id": pairID, "visualDescription": visualDescription}
	if err := c.postJSON(ctx, "/api/step-images", body, &out, 0); err != nil {
		return domain.StepImageResult{Status: domain.PairError}, err
	}
	return out, nil
}

func (c *Client) Experts(ctx context.Context) (*ExpertList, error) {
	var out ExpertList
	if err := c.do(ctx, http.MethodGet, "/api/experts", nil, "", &out, c.cfg.MaxRetries); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transcribe uploads raw audio of mimeType and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("kidslab api: empty audio")
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(audio)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/transcribe", audio, mimeType, &out, c.cfg.MaxRetries); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (c *Client) Runs(ctx context.Context, limit int) ([]domain.Run, error) {
	path := "/api/runs"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out struct {
		Runs []domain.Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, "", &out, c.cfg.MaxRetries); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

func (c *Client) Run(ctx context.Context, id string) (*domain.Run, []domain.RunStep, error) {
	var out struct {
		Run   *domain.Run      `json:"run"`
		Steps []domain.RunStep `json:"steps"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id), nil, "", &out, c.cfg.MaxRetries); err != nil {
		return nil, nil, err
	}
	return out.Run, out.Steps, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any, retries int) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, body, "application/json", out, retries)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, out any, retries int) error {
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.doOnce(ctx, method, path, body, contentType)
		if err == nil {
			if out == nil || len(raw) == 0 {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("kidslab api decode %s: %w", path, uErr)
			}
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt == retries {
			return err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("API request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", retries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return err
		}
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, contentType string) (*http.Response, []byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
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
		return resp, raw, decodeError(resp.StatusCode, raw)
	}
	return resp, raw, nil
}

func decodeError(status int, raw []byte) *Error {
	var env struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Message != "" {
		return &Error{Status: status, Code: env.Error.Code, Message: env.Error.Message}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 256 {
		msg = msg[:256] + "..."
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Status: status, Message: msg}
}
