package fill

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/platform/httpx"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

const (
	AudioGap      = 100 * time.Millisecond
	ImageInterval = 3 * time.Second
	PrefetchDelay = 3 * time.Second
)

// ErrFirstPending means the fast-path media of the first pair has not
// arrived, so background work must not start yet.
var ErrFirstPending = errors.New("fill: first pair media not ready")

type AudioSource interface {
	SynthesizeStepAudio(ctx context.Context, pairID string, agent domain.ExpertID, text string) (*string, error)
}

type ImageSource interface {
	SynthesizeStepImage(ctx context.Context, pairID, visualDescription string) (domain.StepImageResult, error)
}

// AudioWorker narrates pairs 2..N one at a time, in step order.
type AudioWorker struct {
	log   *logger.Logger
	src   AudioSource
	gap   time.Duration
	sleep func(context.Context, time.Duration) error
}

func NewAudioWorker(log *logger.Logger, src AudioSource) *AudioWorker {
	return &AudioWorker{
		log:   log.With("service", "AudioWorker"),
		src:   src,
		gap:   AudioGap,
		sleep: httpx.Sleep,
	}
}

// Run drains the pending audio queue of cache. Failed items are marked and
// skipped. It returns ErrFirstPending while pair 0 has no audio.
func (w *AudioWorker) Run(ctx context.Context, cache *RunCache) error {
	first, ok := cache.Pair(0)
	if !ok {
		return nil
	}
	if first.AudioData == nil {
		return ErrFirstPending
	}
	for i := 1; i < cache.Len(); i++ {
		p, _ := cache.Pair(i)
		if p.AudioData != nil || !cache.Claim(p.ID) {
			continue
		}
		audio, err := w.src.SynthesizeStepAudio(ctx, p.ID, cache.Agent(), p.Text)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("step audio failed", "pair_id", p.ID, "error", err)
			audio = nil
		}
		cache.SetAudio(p.ID, audio)
		if err := w.sleep(ctx, w.gap); err != nil {
			return err
		}
	}
	return nil
}

// ImageWorker fills per-step images of pending pairs, one request at a time
// with at least ImageInterval between requests.
type ImageWorker struct {
	log     *logger.Logger
	src     ImageSource
	limiter *rate.Limiter
}

func NewImageWorker(log *logger.Logger, src ImageSource) *ImageWorker {
	return &ImageWorker{
		log:     log.With("service", "ImageWorker"),
		src:     src,
		limiter: rate.NewLimiter(rate.Every(ImageInterval), 1),
	}
}

// Run returns ErrFirstPending while pair 0 is still generating.
func (w *ImageWorker) Run(ctx context.Context, cache *RunCache) error {
	first, ok := cache.Pair(0)
	if !ok {
		return nil
	}
	if first.Status == domain.PairGenerating {
		return ErrFirstPending
	}
	for i := 1; i < cache.Len(); i++ {
		p, _ := cache.Pair(i)
		if p.Status != domain.PairPending || !cache.Claim(p.ID) {
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		cache.SetStatus(p.ID, domain.PairGenerating)
		res, err := w.src.SynthesizeStepImage(ctx, p.ID, p.VisualDescription)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("step image failed", "pair_id", p.ID, "error", err)
			res = domain.StepImageResult{Status: domain.PairError}
		}
		cache.SetImage(p.ID, res)
	}
	return nil
}

// Prefetcher fetches the narration of step k+1 a fixed delay after step k
// starts playing, so it does not compete with the current narration.
type Prefetcher struct {
	log   *logger.Logger
	src   AudioSource
	delay time.Duration
	sleep func(context.Context, time.Duration) error
	wg    sync.WaitGroup
}

func NewPrefetcher(log *logger.Logger, src AudioSource) *Prefetcher {
	return &Prefetcher{
		log:   log.With("service", "AudioPrefetcher"),
		src:   src,
		delay: PrefetchDelay,
		sleep: httpx.Sleep,
	}
}

// Playing reports that pair k began narrating. At most one fetch is issued per
// pair of a run.
func (p *Prefetcher) Playing(ctx context.Context, cache *RunCache, k int) {
	next, ok := cache.Pair(k + 1)
	if !ok || next.AudioData != nil || cache.Dispatched(next.ID) {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sleep(ctx, p.delay); err != nil {
			return
		}
		if !cache.Claim(next.ID) {
			return
		}
		audio, err := p.src.SynthesizeStepAudio(ctx, next.ID, cache.Agent(), next.Text)
		if err != nil {
			p.log.Warn("audio prefetch failed", "pair_id", next.ID, "error", err)
			audio = nil
		}
		cache.SetAudio(next.ID, audio)
	}()
}

// Wait blocks until in-flight prefetches finish.
func (p *Prefetcher) Wait() { p.wg.Wait() }
