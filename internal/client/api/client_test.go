package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(logger.NewNop(), Config{BaseURL: srv.URL + "/", Token: "tok", MaxRetries: 1, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestSelectExpertSendsBearerAndRetries(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/experts/select" || r.Method != http.MethodPost {
			t.Errorf("route: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("authorization: got=%q", r.Header.Get("Authorization"))
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var q domain.Question
		_ = json.NewDecoder(r.Body).Decode(&q)
		if q.Text != "なんで空は青いの？" {
			t.Errorf("question: got=%q", q.Text)
		}
		_, _ = io.WriteString(w, `{"agentId":"scientist","reason":"そらのいろ"}`)
	})

	sel, err := c.SelectExpert(context.Background(), domain.Question{Text: "なんで空は青いの？"})
	if err != nil {
		t.Fatalf("SelectExpert: %v", err)
	}
	if sel.AgentID != domain.ExpertScientist || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("sel=%+v calls=%d", sel, calls)
	}
}

func TestGenerateResponseIsNotRetriedAndDecodesEnvelope(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"pipeline failed","code":"pipeline_failed"}}`)
	})

	_, err := c.GenerateResponse(context.Background(), GenerateRequest{Question: "q"})
	if err == nil || !IsCode(err, "pipeline_failed") {
		t.Fatalf("want pipeline_failed got=%v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls: want=1 got=%d", calls)
	}
}

func TestStepAudioNullIsNotAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["id"] != "run:2" || body["agentId"] != "scientist" {
			t.Errorf("body: %v", body)
		}
		_, _ = io.WriteString(w, `{"audioData":null}`)
	})
	audio, err := c.SynthesizeStepAudio(context.Background(), "run:2", domain.ExpertScientist, "text")
	if err != nil || audio != nil {
		t.Fatalf("audio=%v err=%v", audio, err)
	}
}

func TestStepImageFailureReportsErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	})
	res, err := c.SynthesizeStepImage(context.Background(), "run:2", "a sky")
	if err == nil || res.Status != domain.PairError {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestTranscribeAndRuns(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/transcribe":
			if r.Header.Get("Content-Type") != "audio/webm" {
				t.Errorf("content type: %s", r.Header.Get("Content-Type"))
			}
			_, _ = io.WriteString(w, `{"text":"そらはなんであおいの"}`)
		case "/api/runs":
			if r.URL.Query().Get("limit") != "5" {
				t.Errorf("limit: %s", r.URL.RawQuery)
			}
			_, _ = io.WriteString(w, `{"runs":[{"question":"q","status":"completed"}]}`)
		default:
			http.NotFound(w, r)
		}
	})

	text, err := c.Transcribe(context.Background(), []byte{1, 2, 3}, "audio/webm")
	if err != nil || text != "そらはなんであおいの" {
		t.Fatalf("text=%q err=%v", text, err)
	}
	runs, err := c.Runs(context.Background(), 5)
	if err != nil || len(runs) != 1 || runs[0].Status != domain.RunStatusCompleted {
		t.Fatalf("runs=%+v err=%v", runs, err)
	}
	if _, err := c.Transcribe(context.Background(), nil, ""); err == nil {
		t.Fatalf("empty audio should fail")
	}
}
