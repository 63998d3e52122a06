package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/kidslab-backend/internal/platform/gcp"
	"github.com/yungbote/kidslab-backend/internal/platform/httpx"
	"github.com/yungbote/kidslab-backend/internal/platform/localmedia"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

const (
	transcribeLanguage = "ja-JP"
	transcribeTimeout  = time.Minute
	// MaxTranscribeBytes is the inline audio limit of synchronous recognition.
	MaxTranscribeBytes = 10 << 20

	convertedSampleRate = 16000
)

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Transcriber turns a spoken question into text with Google Cloud Speech.
type Transcriber struct {
	log        *logger.Logger
	recognize  recognizeFunc
	closer     func() error
	converter  localmedia.Tools
	maxRetries int
	sleep      func(context.Context, time.Duration) error
}

func NewTranscriber(ctx context.Context, log *logger.Logger) (*Transcriber, error) {
	c, err := speech.NewClient(ctx, gcp.ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	t := newTranscriber(log, func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return c.Recognize(ctx, req)
	})
	t.closer = c.Close
	return t, nil
}

func newTranscriber(log *logger.Logger, fn recognizeFunc) *Transcriber {
	return &Transcriber{
		log:        log.With("service", "Transcriber"),
		recognize:  fn,
		closer:     func() error { return nil },
		maxRetries: 3,
		sleep:      httpx.Sleep,
	}
}

// WithConverter re-encodes formats the recognizer cannot detect to WAV first.
func (t *Transcriber) WithConverter(c localmedia.Tools) *Transcriber {
	t.converter = c
	return t
}

func (t *Transcriber) Close() error {
	if t == nil || t.closer == nil {
		return nil
	}
	return t.closer()
}

// Transcribe returns the best alternative of every result joined together.
// Empty audio yields an empty string.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	if len(audio) > MaxTranscribeBytes {
		return "", fmt.Errorf("audio too large: %d bytes", len(audio))
	}
	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	cfg := &speechpb.RecognitionConfig{
		LanguageCode:               transcribeLanguage,
		EnableAutomaticPunctuation: true,
		Encoding:                   inferSpeechEncoding(mimeType),
	}
	if cfg.Encoding == speechpb.RecognitionConfig_ENCODING_UNSPECIFIED && t.converter != nil {
		wav, err := t.converter.ToWAV(ctx, audio, localmedia.SuffixForMime(mimeType), localmedia.AudioOptions{SampleRateHz: convertedSampleRate})
		if err != nil {
			return "", fmt.Errorf("convert audio: %w", err)
		}
		audio = wav
		cfg.Encoding = speechpb.RecognitionConfig_LINEAR16
		cfg.SampleRateHertz = convertedSampleRate
	}
	req := &speechpb.RecognizeRequest{
		Config: cfg,
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	}
	resp, err := t.retry(ctx, req)
	if err != nil {
		return "", fmt.Errorf("speech recognize: %w", err)
	}

	var b strings.Builder
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		b.WriteString(strings.TrimSpace(alts[0].GetTranscript()))
	}
	return b.String(), nil
}

func (t *Transcriber) retry(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	backoff := 750 * time.Millisecond
	var last error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := t.recognize(ctx, req)
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == t.maxRetries {
			break
		}
		t.log.Warn("speech recognize retrying", "attempt", attempt+1, "code", code.String())
		if err := t.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, last
}

// inferSpeechEncoding returns ENCODING_UNSPECIFIED for formats the service detects itself.
func inferSpeechEncoding(mimeType string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.Contains(m, "wav"):
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "flac"):
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mp3"), strings.Contains(m, "mpeg"):
		return speechpb.RecognitionConfig_MP3
	case strings.Contains(m, "webm"):
		return speechpb.RecognitionConfig_WEBM_OPUS
	case strings.Contains(m, "ogg"):
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
