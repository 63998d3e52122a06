package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(context.Background(), logger.NewNop(), Config{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		TextModel:  "text-model",
		ImageModel: "image-model",
		TTSModel:   "tts-model",
		MaxRetries: 1,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func writeParts(w http.ResponseWriter, parts ...Part) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{map[string]any{"content": Content{Role: "model", Parts: parts}}},
	})
}

func TestGenerateTextSendsJSONModeAndTemperature(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/text-model:generateContent" {
			t.Errorf("path: got=%s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		var req GenerateContentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.GenerationConfig == nil || req.GenerationConfig.ResponseMimeType != "application/json" {
			t.Errorf("json mode not requested")
		}
		if req.GenerationConfig.Temperature == nil || *req.GenerationConfig.Temperature != 0.3 {
			t.Errorf("temperature: got=%v", req.GenerationConfig.Temperature)
		}
		writeParts(w, Part{Text: "  {\"agentId\":\"scientist\"}\n"})
	})

	out, err := c.GenerateText(context.Background(), "", []Content{{Role: "user", Parts: []Part{{Text: "q"}}}}, 0.3, true)
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if out != `{"agentId":"scientist"}` {
		t.Fatalf("text: got=%q", out)
	}
}

func TestGenerateImageReturnsInlineOrErrNoInlineData(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req GenerateContentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.GenerationConfig.ImageConfig == nil || req.GenerationConfig.ImageConfig.AspectRatio != "4:3" {
			t.Errorf("aspect ratio missing")
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			writeParts(w, Part{Text: "here you go"}, Part{InlineData: &InlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(png)}})
			return
		}
		writeParts(w, Part{Text: "no image today"})
	})

	mime, raw, err := c.GenerateImage(context.Background(), "a cat", "4:3")
	if err != nil || mime != "image/png" || string(raw) != string(png) {
		t.Fatalf("first call: mime=%s raw=%v err=%v", mime, raw, err)
	}
	if _, _, err := c.GenerateImage(context.Background(), "a cat", "4:3"); !errors.Is(err, ErrNoInlineData) {
		t.Fatalf("second call: want ErrNoInlineData got=%v", err)
	}
}

func TestSynthesizeRetriesTransientStatus(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		var req GenerateContentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if v := req.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "kore" {
			t.Errorf("voice: got=%s", v)
		}
		if strings.Join(req.GenerationConfig.ResponseModalities, ",") != "AUDIO" {
			t.Errorf("modalities: got=%v", req.GenerationConfig.ResponseModalities)
		}
		writeParts(w, Part{InlineData: &InlineData{MimeType: "audio/L16;rate=24000", Data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})}})
	})

	pcm, err := c.Synthesize(context.Background(), "こんにちは", "kore")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(pcm) != 4 || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("pcm=%v calls=%d", pcm, calls)
	}
}

func TestNonRetryableStatusFailsFast(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad", http.StatusBadRequest)
	})
	if _, err := c.GenerateText(context.Background(), "sys", nil, 0.7, false); err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls: want=1 got=%d", calls)
	}
}
