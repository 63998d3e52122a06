package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(logger.NewNop(), Config{
		APIKey:     "sk-test",
		BaseURL:    srv.URL,
		Model:      "m",
		ImageModel: "img",
		TTSModel:   "tts",
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(logger.NewNop(), Config{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestGenerateTextJSONMode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth header: got=%q", r.Header.Get("Authorization"))
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		text, _ := req["text"].(map[string]any)
		format, _ := text["format"].(map[string]any)
		if format["type"] != "json_object" {
			t.Errorf("format: got=%v", req["text"])
		}
		if req["temperature"] != 0.7 {
			t.Errorf("temperature: got=%v", req["temperature"])
		}
		_, _ = w.Write([]byte(`{"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"{\"text\":\"ok\"}"}]}]}`))
	})
	out, err := c.GenerateText(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.7, true)
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if out != `{"text":"ok"}` {
		t.Fatalf("text: got=%q", out)
	}
}

func TestGenerateImageDecodesB64(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{map[string]any{"b64_json": base64.StdEncoding.EncodeToString([]byte("PNGDATA"))}},
		})
	})
	img, err := c.GenerateImage(context.Background(), "a star")
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if string(img.Bytes) != "PNGDATA" || img.MimeType != "image/png" {
		t.Fatalf("image: got=%+v", img)
	}
}

func TestSynthesizeReturnsRawBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("path: got=%s", r.URL.Path)
		}
		var req speechRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat != "pcm" || req.Voice != "onyx" {
			t.Errorf("request: got=%+v", req)
		}
		_, _ = w.Write([]byte{9, 8, 7, 6})
	})
	pcm, err := c.Synthesize(context.Background(), "やあ", "onyx")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(pcm) != 4 || pcm[0] != 9 {
		t.Fatalf("pcm: got=%v", pcm)
	}
}
