package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/yungbote/kidslab-backend/internal/platform/envutil"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

// SampleRate is the highest PCM rate Polly returns.
const SampleRate = 16000

var ErrEmptyAudio = errors.New("polly: empty audio stream")

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type Config struct {
	Region  string
	VoiceID string
	Engine  string
	Timeout time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Region:  envutil.String("AWS_REGION", "ap-northeast-1"),
		VoiceID: envutil.String("POLLY_VOICE_ID", "Kazuha"),
		Engine:  envutil.String("POLLY_ENGINE", "neural"),
		Timeout: envutil.Duration("POLLY_TIMEOUT", 20*time.Second),
	}
}

type Client struct {
	log *logger.Logger
	cfg Config

	mu     sync.Mutex
	client synthClient
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	return NewClientWithSynth(log, cfg, nil)
}

// NewClientWithSynth injects the SDK client; nil loads the default AWS config lazily.
func NewClientWithSynth(log *logger.Logger, cfg Config, client synthClient) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "ap-northeast-1"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "Kazuha"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{log: log.With("service", "PollyClient"), cfg: cfg, client: client}, nil
}

// Synthesize returns 16-bit mono PCM at SampleRate. Voices Polly does not know
// (such as another provider's names) fall back to the configured voice.
func (c *Client) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("polly: text required")
	}
	client, err := c.resolveClient(ctx)
	if err != nil {
		return nil, err
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(c.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}
	sampleRate := fmt.Sprint(SampleRate)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	output, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatPcm,
		SampleRate:   &sampleRate,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(c.voiceFor(voice)),
	})
	if err != nil {
		return nil, classify(err)
	}
	if output == nil || output.AudioStream == nil {
		return nil, ErrEmptyAudio
	}
	defer output.AudioStream.Close()
	pcm, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("polly: read audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}
	return pcm, nil
}

func (c *Client) voiceFor(voice string) string {
	v := strings.TrimSpace(voice)
	if v == "" {
		return c.cfg.VoiceID
	}
	for _, known := range pollytypes.VoiceId("").Values() {
		if strings.EqualFold(string(known), v) {
			return string(known)
		}
	}
	return c.cfg.VoiceID
}

// ThrottledError marks Polly rate limiting so callers can back off.
type ThrottledError struct{ Err error }

func (e *ThrottledError) Error() string { return "polly throttled: " + e.Err.Error() }
func (e *ThrottledError) Unwrap() error { return e.Err }

// HTTPStatusCode lets httpx treat throttling like a 429.
func (e *ThrottledError) HTTPStatusCode() int { return 429 }

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ThrottlingException":
			return &ThrottledError{Err: err}
		default:
			return fmt.Errorf("polly %s: %w", apiErr.ErrorCode(), err)
		}
	}
	return fmt.Errorf("polly: %w", err)
}

func (c *Client) resolveClient(ctx context.Context) (synthClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	c.client = polly.NewFromConfig(awsCfg)
	return c.client, nil
}
