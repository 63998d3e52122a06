package localmedia

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

func TestFFmpegWAVArgs(t *testing.T) {
	args := strings.Join(ffmpegWAVArgs("in.m4a", "out.wav", AudioOptions{}), " ")
	want := "-y -i in.m4a -vn -ac 1 -ar 16000 -acodec pcm_s16le -f wav out.wav"
	if args != want {
		t.Fatalf("args:\nwant=%s\n got=%s", want, args)
	}
	if got := ffmpegWAVArgs("a", "b", AudioOptions{SampleRateHz: 24000, Channels: 2}); got[5] != "2" || got[7] != "24000" {
		t.Fatalf("custom opts: %v", got)
	}
}

func TestSuffixForMime(t *testing.T) {
	cases := map[string]string{
		"audio/mp4":       ".m4a",
		"audio/x-m4a":     ".m4a",
		"audio/aac":       ".aac",
		"video/quicktime": ".mov",
		"":                ".bin",
	}
	for mime, want := range cases {
		if got := SuffixForMime(mime); got != want {
			t.Fatalf("%q: want=%s got=%s", mime, want, got)
		}
	}
}

func TestWriteTempFileCleansUp(t *testing.T) {
	t.Setenv("MEDIA_WORK_DIR", t.TempDir())
	m := New(logger.NewNop())
	path, cleanup, err := m.WriteTempFile(context.Background(), []byte("abc"), "m4a")
	if err != nil {
		t.Fatalf("WriteTempFile: %v", err)
	}
	if !strings.HasSuffix(path, ".m4a") {
		t.Fatalf("suffix: %s", path)
	}
	if b, err := os.ReadFile(path); err != nil || string(b) != "abc" {
		t.Fatalf("content: %q err=%v", b, err)
	}
	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should be removed: %v", err)
	}
}

func TestToWAVRejectsEmptyAudio(t *testing.T) {
	m := New(logger.NewNop())
	if _, err := m.ToWAV(context.Background(), nil, ".m4a", AudioOptions{}); err == nil {
		t.Fatalf("expected error")
	}
}
