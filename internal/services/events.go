package services

import (
	"context"

	"github.com/yungbote/kidslab-backend/internal/platform/logger"
	"github.com/yungbote/kidslab-backend/internal/realtime"
	"github.com/yungbote/kidslab-backend/internal/realtime/bus"
)

// EventEmitter publishes pipeline events to SSE subscribers. With a bus the
// message goes through Redis and every replica's forwarder delivers it.
type EventEmitter struct {
	log *logger.Logger
	hub *realtime.SSEHub
	bus bus.Bus
}

func NewEventEmitter(log *logger.Logger, hub *realtime.SSEHub, b bus.Bus) *EventEmitter {
	return &EventEmitter{log: log.With("service", "EventEmitter"), hub: hub, bus: b}
}

func (e *EventEmitter) Publish(ctx context.Context, channel, event string, data any) {
	if channel == "" {
		return
	}
	msg := realtime.SSEMessage{Channel: channel, Event: event, Data: data}
	if e.bus != nil {
		err := e.bus.Publish(context.WithoutCancel(ctx), msg)
		if err == nil {
			return
		}
		e.log.Warn("bus publish failed; delivering locally", "event", event, "error", err)
	}
	if e.hub != nil {
		e.hub.Broadcast(msg)
	}
}
