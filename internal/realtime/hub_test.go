package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

func recvMessage(t *testing.T, ch <-chan SSEMessage, timeout time.Duration) SSEMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for SSE message")
	}
	return SSEMessage{}
}

func TestSSEHubOrderingAndReconnect(t *testing.T) {
	hub := NewSSEHub(logger.NewNop())
	channel := uuid.NewString()

	clientA := hub.NewSSEClient("child-1")
	hub.AddChannel(clientA, channel)
	hub.Broadcast(SSEMessage{Channel: channel, Event: "ExpertSelected"})
	hub.Broadcast(SSEMessage{Channel: channel, Event: "ExplanationReady"})

	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != "ExpertSelected" {
		t.Fatalf("first event: got=%s", got.Event)
	}
	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != "ExplanationReady" {
		t.Fatalf("second event: got=%s", got.Event)
	}

	hub.CloseClient(clientA)
	hub.CloseClient(clientA)
	if _, ok := <-clientA.Outbound; ok {
		t.Fatalf("outbound should be closed after disconnect")
	}
	if hub.Subscribers(channel) != 0 {
		t.Fatalf("closed client still subscribed")
	}

	clientB := hub.NewSSEClient("child-1")
	hub.AddChannel(clientB, channel)
	hub.Broadcast(SSEMessage{Channel: channel, Event: "RunCompleted"})
	if got := recvMessage(t, clientB.Outbound, time.Second); got.Event != "RunCompleted" {
		t.Fatalf("reconnect event: got=%s", got.Event)
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewSSEHub(logger.NewNop())
	c := hub.NewSSEClient("child")
	hub.AddChannel(c, "run")
	for i := 0; i < outboundBuffer+5; i++ {
		hub.Broadcast(SSEMessage{Channel: "run", Event: "FirstAudioReady"})
	}
	if len(c.Outbound) != outboundBuffer {
		t.Fatalf("buffer: want=%d got=%d", outboundBuffer, len(c.Outbound))
	}
	hub.Broadcast(SSEMessage{Channel: "other", Event: "x"})
	hub.RemoveChannel(c, "run")
	if hub.Subscribers("run") != 0 {
		t.Fatalf("RemoveChannel left a subscription")
	}
}

func TestServeHTTPWritesEventsAndHeartbeats(t *testing.T) {
	hub := NewSSEHub(logger.NewNop())
	hub.heartbeat = 10 * time.Millisecond
	client := hub.NewSSEClient("child")
	hub.AddChannel(client, "run-1")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/sse/stream?channel=run-1", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	hub.Broadcast(SSEMessage{Channel: "run-1", Event: "CombinedImageReady", Data: map[string]bool{"ready": true}})
	done := make(chan struct{})
	go func() {
		hub.ServeHTTP(rec, req, client)
		close(done)
	}()
	time.Sleep(60 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("content type: %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(body, "event: CombinedImageReady\ndata: {\"channel\":\"run-1\"") {
		t.Fatalf("event frame missing: %q", body)
	}
	if !strings.Contains(body, ": ping\n\n") {
		t.Fatalf("heartbeat missing: %q", body)
	}
}
