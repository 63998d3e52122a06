package localmedia

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/kidslab-backend/internal/platform/ctxutil"
	"github.com/yungbote/kidslab-backend/internal/platform/envutil"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

// Tools wraps the ffmpeg binary for audio the speech recognizer cannot take
// as is (mp4/m4a/aac recordings from iOS browsers, for example).
type Tools interface {
	AssertReady(ctx context.Context) error
	// ToWAV re-encodes audio to 16-bit mono PCM WAV at opts.SampleRateHz.
	ToWAV(ctx context.Context, data []byte, suffix string, opts AudioOptions) ([]byte, error)
	WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error)
}

type AudioOptions struct {
	SampleRateHz int
	Channels     int
}

type tools struct {
	log *logger.Logger

	ffmpegPath string
	workRoot   string

	defaultTimeout time.Duration
}

// New reads FFMPEG_PATH and MEDIA_WORK_DIR.
func New(log *logger.Logger) Tools {
	return &tools{
		log:            log.With("service", "MediaTools"),
		ffmpegPath:     envutil.String("FFMPEG_PATH", "ffmpeg"),
		workRoot:       envutil.String("MEDIA_WORK_DIR", filepath.Join(os.TempDir(), "kidslab-media")),
		defaultTimeout: 2 * time.Minute,
	}
}

func (m *tools) AssertReady(ctx context.Context) error {
	if _, err := exec.LookPath(m.ffmpegPath); err != nil {
		return fmt.Errorf("missing required binary %q in PATH: %w", m.ffmpegPath, err)
	}
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return fmt.Errorf("create workRoot: %w", err)
	}
	return nil
}

func (m *tools) WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error) {
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	h := sha256.Sum256(data)
	base := hex.EncodeToString(h[:])[:16]
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	f, err := os.CreateTemp(m.workRoot, base+"-*"+suffix)
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	cleanup := func() { _ = os.Remove(path) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("close temp file: %w", err)
	}
	return path, cleanup, nil
}

func (m *tools) ToWAV(ctx context.Context, data []byte, suffix string, opts AudioOptions) ([]byte, error) {
	ctx = ctxutil.Default(ctx)
	if len(data) == 0 {
		return nil, fmt.Errorf("audio required")
	}
	if err := m.AssertReady(ctx); err != nil {
		return nil, err
	}
	in, cleanupIn, err := m.WriteTempFile(ctx, data, suffix)
	if err != nil {
		return nil, err
	}
	defer cleanupIn()
	out := strings.TrimSuffix(in, filepath.Ext(in)) + ".out.wav"
	defer func() { _ = os.Remove(out) }()

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffmpegPath, ffmpegWAVArgs(in, out, opts)...)
	if combined, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg convert audio failed: %w; out=%s", err, truncate(string(combined), 500))
	}
	wav, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("audio output missing at %s: %w", out, err)
	}
	m.log.Debug("audio converted", "in_bytes", len(data), "out_bytes", len(wav), "suffix", suffix)
	return wav, nil
}

func ffmpegWAVArgs(in, out string, opts AudioOptions) []string {
	sr := opts.SampleRateHz
	if sr <= 0 {
		sr = 16000
	}
	ch := opts.Channels
	if ch <= 0 {
		ch = 1
	}
	return []string{
		"-y",
		"-i", in,
		"-vn",
		"-ac", strconv.Itoa(ch),
		"-ar", strconv.Itoa(sr),
		"-acodec", "pcm_s16le",
		"-f", "wav", out,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// SuffixForMime picks a file extension ffmpeg can probe from.
func SuffixForMime(mimeType string) string {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.Contains(m, "mp4"), strings.Contains(m, "m4a"):
		return ".m4a"
	case strings.Contains(m, "aac"):
		return ".aac"
	case strings.Contains(m, "3gpp"):
		return ".3gp"
	case strings.Contains(m, "amr"):
		return ".amr"
	case strings.Contains(m, "quicktime"):
		return ".mov"
	default:
		return ".bin"
	}
}
