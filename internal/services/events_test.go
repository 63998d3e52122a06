package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yungbote/kidslab-backend/internal/platform/logger"
	"github.com/yungbote/kidslab-backend/internal/realtime"
)

type stubBus struct {
	published []realtime.SSEMessage
	err       error
}

func (b *stubBus) Publish(_ context.Context, msg realtime.SSEMessage) error {
	b.published = append(b.published, msg)
	return b.err
}
func (b *stubBus) StartForwarder(context.Context, func(realtime.SSEMessage)) error { return nil }
func (b *stubBus) Close() error                                                    { return nil }

func TestEventEmitterRoutesThroughBus(t *testing.T) {
	hub := realtime.NewSSEHub(logger.NewNop())
	c := hub.NewSSEClient("child")
	hub.AddChannel(c, "run-1")

	b := &stubBus{}
	em := NewEventEmitter(logger.NewNop(), hub, b)
	em.Publish(context.Background(), "run-1", "ReviewDone", nil)
	em.Publish(context.Background(), "", "ignored", nil)
	if len(b.published) != 1 || b.published[0].Event != "ReviewDone" {
		t.Fatalf("bus messages: %+v", b.published)
	}
	if len(c.Outbound) != 0 {
		t.Fatalf("hub should only receive bus-forwarded messages")
	}

	b.err = errors.New("redis down")
	em.Publish(context.Background(), "run-1", "RunCompleted", nil)
	select {
	case msg := <-c.Outbound:
		if msg.Event != "RunCompleted" {
			t.Fatalf("fallback event: %s", msg.Event)
		}
	case <-time.After(time.Second):
		t.Fatalf("bus failure should fall back to the local hub")
	}
}
