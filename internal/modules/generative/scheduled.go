package generative

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/kidslab-backend/internal/modules/scheduler"
	"github.com/yungbote/kidslab-backend/internal/observability"
)

// Schedule routes every backend call through s with its kind's priority and
// records latency per provider.
func Schedule(s scheduler.Scheduler, b Backends) Backends {
	if s == nil {
		s = scheduler.Immediate{}
	}
	out := Backends{}
	if b.Text != nil {
		out.Text = &scheduledText{s: s, next: b.Text}
	}
	if b.Image != nil {
		out.Image = &scheduledImage{s: s, next: b.Image}
	}
	if b.Speech != nil {
		out.Speech = &scheduledSpeech{s: s, next: b.Speech}
	}
	return out
}

type scheduledText struct {
	s    scheduler.Scheduler
	next TextModel
}

func (m *scheduledText) Provider() string { return m.next.Provider() }

func (m *scheduledText) Complete(ctx context.Context, req TextRequest) (string, error) {
	var out string
	err := call(ctx, m.s, scheduler.PriorityText, m.next.Provider(), "text", func(ctx context.Context) error {
		var err error
		out, err = m.next.Complete(ctx, req)
		return err
	})
	return out, err
}

type scheduledImage struct {
	s    scheduler.Scheduler
	next ImageModel
}

func (m *scheduledImage) Provider() string { return m.next.Provider() }

func (m *scheduledImage) Generate(ctx context.Context, req ImageRequest) (*InlineImage, error) {
	var out *InlineImage
	err := call(ctx, m.s, scheduler.PriorityImage, m.next.Provider(), "image", func(ctx context.Context) error {
		var err error
		out, err = m.next.Generate(ctx, req)
		if err == nil && (out == nil || len(out.Data) == 0) {
			return ErrNoInlineData
		}
		return err
	})
	return out, err
}

type scheduledSpeech struct {
	s    scheduler.Scheduler
	next SpeechModel
}

func (m *scheduledSpeech) Provider() string { return m.next.Provider() }

func (m *scheduledSpeech) Synthesize(ctx context.Context, req SpeechRequest) (*PCM, error) {
	var out *PCM
	err := call(ctx, m.s, scheduler.PrioritySpeech, m.next.Provider(), "speech", func(ctx context.Context) error {
		var err error
		out, err = m.next.Synthesize(ctx, req)
		if err == nil && (out == nil || len(out.Samples) == 0) {
			return ErrNoInlineData
		}
		return err
	})
	return out, err
}

func call(ctx context.Context, s scheduler.Scheduler, p scheduler.Priority, provider, kind string, fn scheduler.Task) error {
	ctx, span := observability.StartSpan(ctx, "generative."+kind,
		attribute.String("provider", provider),
		attribute.String("priority", p.String()),
	)
	defer span.End()

	start := time.Now()
	err := s.Submit(ctx, p, fn)
	observability.Current().ObserveBackendCall(provider, kind, callStatus(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoInlineData):
		return "empty"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
