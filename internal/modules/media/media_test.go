package media

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/modules/experts"
	"github.com/yungbote/kidslab-backend/internal/modules/generative"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

func steps(n int) []domain.ExplanationStep {
	out := make([]domain.ExplanationStep, n)
	for i := range out {
		out[i] = domain.ExplanationStep{StepNumber: i + 1, Text: "t", VisualDescription: "scene-" + string(rune('A'+i))}
	}
	return out
}

func TestBuildCombinedPromptLayouts(t *testing.T) {
	if got := BuildCombinedPrompt(nil); got != "Children's book illustration" {
		t.Fatalf("empty: got=%q", got)
	}

	one := BuildCombinedPrompt(steps(1))
	if !strings.HasPrefix(one, "Create an illustration for a children's book.\n") || !strings.HasSuffix(one, "Description: scene-A") {
		t.Fatalf("one: got=%q", one)
	}

	two := BuildCombinedPrompt(steps(2))
	if strings.Count(two, "Panel ") != 2 || !strings.Contains(two, "Panel 1 (Left): scene-A\nPanel 2 (Right): scene-B") {
		t.Fatalf("two: got=%q", two)
	}

	three := BuildCombinedPrompt(steps(3))
	if strings.Count(three, "Panel ") != 4 || !strings.HasSuffix(three, "Panel 4 (Bottom-Right): ") {
		t.Fatalf("three: got=%q", three)
	}

	four := BuildCombinedPrompt(steps(4))
	for _, vd := range []string{"scene-A", "scene-B", "scene-C", "scene-D"} {
		if !strings.Contains(four, vd) {
			t.Fatalf("four missing %s", vd)
		}
	}
	if !strings.Contains(four, "(2x2 grid)") || !strings.Contains(four, "it MUST be in Japanese.") {
		t.Fatalf("four: got=%q", four)
	}
	if strings.Count(BuildCombinedPrompt(steps(6)), "Panel ") != 4 {
		t.Fatalf("more than four steps still uses four panels")
	}
}

func TestBuildSingleImagePromptTruncatesRunes(t *testing.T) {
	summary := strings.Repeat("あ", 150)
	got := BuildSingleImagePrompt("なんで？", summary)
	if !strings.Contains(got, "Answer Summary: "+strings.Repeat("あ", 100)+"...\n") {
		t.Fatalf("summary not truncated to 100 runes: %q", got)
	}
	if !strings.HasSuffix(got, "Output ONLY the English prompt for image generation.") {
		t.Fatalf("got=%q", got)
	}
}

func TestDataURLRoundTrip(t *testing.T) {
	u := DataURL("image/png", []byte{1, 2, 3})
	if u != "data:image/png;base64,AQID" {
		t.Fatalf("url: got=%s", u)
	}
	mime, raw, err := ParseDataURL(u)
	if err != nil || mime != "image/png" || len(raw) != 3 {
		t.Fatalf("parse: mime=%s raw=%v err=%v", mime, raw, err)
	}
	if _, _, err := ParseDataURL("https://cdn/x.png"); err == nil {
		t.Fatalf("expected error for remote url")
	}
}

type scriptedImage struct {
	results []error
	calls   int
}

func (s *scriptedImage) Provider() string { return "fake" }

func (s *scriptedImage) Generate(ctx context.Context, req generative.ImageRequest) (*generative.InlineImage, error) {
	i := s.calls
	s.calls++
	if req.AspectRatio != "4:3" {
		return nil, errors.New("aspect ratio")
	}
	if i < len(s.results) && s.results[i] != nil {
		return nil, s.results[i]
	}
	if i >= len(s.results) {
		return nil, nil
	}
	return &generative.InlineImage{MimeType: "image/png", Data: []byte{9}}, nil
}

func newTestVisual(img generative.ImageModel) (*Visual, *[]time.Duration) {
	v := NewVisual(logger.NewNop(), img, nil)
	var delays []time.Duration
	v.Sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return v, &delays
}

func TestSynthesizeStepImageSucceedsOnThirdAttempt(t *testing.T) {
	img := &scriptedImage{results: []error{errors.New("429"), generative.ErrNoInlineData, nil}}
	v, delays := newTestVisual(img)
	got := v.SynthesizeStepImage(context.Background(), "pair-3", "p")
	if got.Status != domain.PairReady || got.ImageURL == nil || !strings.HasPrefix(*got.ImageURL, "data:image/png;base64,") {
		t.Fatalf("result: %+v", got)
	}
	if img.calls != 3 {
		t.Fatalf("attempts: want=3 got=%d", img.calls)
	}
	if len(*delays) != 2 || (*delays)[0] != 4*time.Second || (*delays)[1] != 8*time.Second {
		t.Fatalf("delays: %v", *delays)
	}
}

func TestSynthesizeStepImageGivesUpAfterThreeAttempts(t *testing.T) {
	img := &scriptedImage{}
	v, delays := newTestVisual(img)
	got := v.SynthesizeStepImage(context.Background(), "pair-2", "p")
	if got.Status != domain.PairError || got.ImageURL != nil {
		t.Fatalf("result: %+v", got)
	}
	if img.calls != 3 || len(*delays) != 2 {
		t.Fatalf("calls=%d delays=%v", img.calls, *delays)
	}
}

func TestSynthesizeImageNeverFails(t *testing.T) {
	v, _ := newTestVisual(&scriptedImage{results: []error{errors.New("boom")}})
	if url, ok := v.SynthesizeImage(context.Background(), "p"); ok || url != "" {
		t.Fatalf("want no image, got %q", url)
	}
	v, _ = newTestVisual(&scriptedImage{results: []error{nil}})
	if url, ok := v.SynthesizeImage(context.Background(), "p"); !ok || url == "" {
		t.Fatalf("want image")
	}
}

type fakeSpeech struct {
	pcm *generative.PCM
	err error
}

func (f fakeSpeech) Provider() string { return "fake" }
func (f fakeSpeech) Synthesize(ctx context.Context, req generative.SpeechRequest) (*generative.PCM, error) {
	return f.pcm, f.err
}

func TestFrameWAVHeader(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	wav := FrameWAV(pcm, 24000)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len: got=%d", len(wav))
	}
	le := binary.LittleEndian
	if string(wav[0:4]) != "RIFF" || string(wav[8:16]) != "WAVEfmt " || string(wav[36:40]) != "data" {
		t.Fatalf("magic: %q", wav[:40])
	}
	if le.Uint32(wav[4:8]) != uint32(36+len(pcm)) || le.Uint32(wav[16:20]) != 16 {
		t.Fatalf("sizes wrong")
	}
	if le.Uint16(wav[20:22]) != 1 || le.Uint16(wav[22:24]) != 1 || le.Uint32(wav[24:28]) != 24000 ||
		le.Uint32(wav[28:32]) != 48000 || le.Uint16(wav[32:34]) != 2 || le.Uint16(wav[34:36]) != 16 {
		t.Fatalf("fmt chunk wrong: %v", wav[20:36])
	}
	if le.Uint32(wav[40:44]) != uint32(len(pcm)) || string(wav[44:]) != string(pcm) {
		t.Fatalf("data chunk wrong")
	}
}

func TestSpeechSynthesizeFramesPCM(t *testing.T) {
	s := NewSpeech(logger.NewNop(), fakeSpeech{pcm: &generative.PCM{Samples: []byte{1, 2}, SampleRate: 16000}})
	out, err := s.Synthesize(context.Background(), "こんにちは", "kore")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(out)
	if len(raw) != 46 || binary.LittleEndian.Uint32(raw[24:28]) != 16000 {
		t.Fatalf("wav: %v", raw)
	}
	s = NewSpeech(logger.NewNop(), fakeSpeech{pcm: &generative.PCM{}})
	if _, err := s.Synthesize(context.Background(), "x", "kore"); !errors.Is(err, generative.ErrNoInlineData) {
		t.Fatalf("empty pcm: err=%v", err)
	}
}

func TestSplitPanels(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 800, 600))
	for y := 0; y < 600; y++ {
		for x := 0; x < 800; x++ {
			if x >= 400 && y >= 300 {
				src.Set(x, y, color.Black)
			}
		}
	}
	four := SplitPanels(src, 4)
	if len(four) != 4 {
		t.Fatalf("four: got=%d", len(four))
	}
	for _, p := range four {
		b := p.Bounds()
		if b.Dx()*3 != b.Dy()*4 {
			t.Fatalf("panel not 4:3: %v", b)
		}
	}
	if r, _, _, _ := four[3].At(200, 150).RGBA(); r != 0 {
		t.Fatalf("bottom-right panel should be black")
	}
	two := SplitPanels(src, 2)
	if len(two) != 2 || two[0].Bounds().Dx() != 800 || two[0].Bounds().Dy() != 600 {
		t.Fatalf("two: %v", two[0].Bounds())
	}
	if r, g, b, _ := two[0].At(10, 10).RGBA(); r != 0xffff || g != 0xffff || b != 0xffff {
		t.Fatalf("half panel should be letterboxed with white")
	}
	if len(SplitPanels(src, 1)) != 1 || SplitPanels(src, 0) != nil {
		t.Fatalf("one/zero panels")
	}
}

func TestAvatarRenderer(t *testing.T) {
	r, err := NewAvatarRenderer(logger.NewNop(), "")
	if err != nil {
		t.Fatalf("NewAvatarRenderer: %v", err)
	}
	c := experts.MustLoad(nil)
	png, err := r.Render(c.Get(domain.ExpertScientist))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := DecodeImage(png)
	if err != nil || img.Bounds().Dx() != 512 {
		t.Fatalf("decode: %v", err)
	}
	for name, want := range map[string]string{"Dr. Quark": "Q", "Ranger Green": "R", "": "?"} {
		if got := Initial(name); got != want {
			t.Fatalf("Initial(%q): want=%s got=%s", name, want, got)
		}
	}
}
