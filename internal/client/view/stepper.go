package view

import (
	"context"
	"time"

	"github.com/yungbote/kidslab-backend/internal/client/fill"
	"github.com/yungbote/kidslab-backend/internal/domain"
)

const (
	AudioPollInterval = 500 * time.Millisecond
	AudioWaitTimeout  = 30 * time.Second
)

// WaitForAudio polls the cache until pair i has narration. It gives up when
// the narration failed, the timeout passes, or ctx ends; false means the caller
// should use its local speech fallback.
func WaitForAudio(ctx context.Context, cache *fill.RunCache, i int, interval, timeout time.Duration) ([]byte, bool) {
	p, ok := cache.Pair(i)
	if !ok {
		return nil, false
	}
	if interval <= 0 {
		interval = AudioPollInterval
	}
	if timeout <= 0 {
		timeout = AudioWaitTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(interval)
	defer poll.Stop()
	for {
		if wav, ok := cache.Audio(p.ID); ok {
			return wav, true
		}
		if cache.AudioFailed(p.ID) {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-poll.C:
		}
	}
}

// Stepper owns the current index of the result view. It advances when a
// narration ends and asks the prefetcher for the following step.
type Stepper struct {
	cache    *fill.RunCache
	prefetch *fill.Prefetcher
	index    int
}

// NewStepper accepts a nil prefetcher for runs whose audio is filled by the
// background worker.
func NewStepper(cache *fill.RunCache, prefetch *fill.Prefetcher) *Stepper {
	return &Stepper{cache: cache, prefetch: prefetch}
}

func (s *Stepper) Index() int { return s.index }

func (s *Stepper) Current() (domain.SentenceImagePair, bool) {
	return s.cache.Pair(s.index)
}

// Start shows the first step.
func (s *Stepper) Start(ctx context.Context) (domain.SentenceImagePair, bool) {
	s.index = 0
	s.playing(ctx)
	return s.Current()
}

// AudioEnded moves to the next step. It returns false on the last one.
func (s *Stepper) AudioEnded(ctx context.Context) (domain.SentenceImagePair, bool) {
	if s.index+1 >= s.cache.Len() {
		return domain.SentenceImagePair{}, false
	}
	s.index++
	s.playing(ctx)
	return s.Current()
}

func (s *Stepper) playing(ctx context.Context) {
	if s.prefetch != nil {
		s.prefetch.Playing(ctx, s.cache, s.index)
	}
}
