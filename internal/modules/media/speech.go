package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/yungbote/kidslab-backend/internal/modules/generative"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

// DefaultSampleRate applies when a backend does not report its rate.
const DefaultSampleRate = 24000

// Speech narrates text as base64 WAV.
type Speech struct {
	log   *logger.Logger
	model generative.SpeechModel
}

func NewSpeech(log *logger.Logger, model generative.SpeechModel) *Speech {
	return &Speech{log: log.With("service", "SpeechSynthesizer"), model: model}
}

// Provider names the backend, which selects the expert's voice.
func (s *Speech) Provider() string {
	if s.model == nil {
		return ""
	}
	return s.model.Provider()
}

// Synthesize returns the base64 encoding of a playable WAV file.
func (s *Speech) Synthesize(ctx context.Context, text, voice string) (string, error) {
	if s.model == nil {
		return "", fmt.Errorf("no speech model")
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty text")
	}
	pcm, err := s.model.Synthesize(ctx, generative.SpeechRequest{Text: text, Voice: voice})
	if err != nil {
		return "", err
	}
	if pcm == nil || len(pcm.Samples) == 0 {
		return "", generative.ErrNoInlineData
	}
	rate := pcm.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	return base64.StdEncoding.EncodeToString(FrameWAV(pcm.Samples, rate)), nil
}

// FrameWAV prefixes 16-bit mono PCM with a 44-byte RIFF/WAVE header.
func FrameWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
		blockAlign    = channels * bitsPerSample / 8
	)
	var b bytes.Buffer
	b.Grow(44 + len(pcm))
	le := binary.LittleEndian
	b.WriteString("RIFF")
	_ = binary.Write(&b, le, uint32(36+len(pcm)))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, le, uint32(16))
	_ = binary.Write(&b, le, uint16(1))
	_ = binary.Write(&b, le, uint16(channels))
	_ = binary.Write(&b, le, uint32(sampleRate))
	_ = binary.Write(&b, le, uint32(sampleRate*blockAlign))
	_ = binary.Write(&b, le, uint16(blockAlign))
	_ = binary.Write(&b, le, uint16(bitsPerSample))
	b.WriteString("data")
	_ = binary.Write(&b, le, uint32(len(pcm)))
	b.Write(pcm)
	return b.Bytes()
}
