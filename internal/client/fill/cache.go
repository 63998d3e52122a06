package fill

import (
	"container/list"
	"sync"

	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/modules/media"
	"github.com/yungbote/kidslab-backend/internal/modules/pipeline"
)

// DefaultMaxAudio bounds the decoded narrations kept per run.
const DefaultMaxAudio = 8

// RunCache is the client-side state of one response. Workers mutate only the
// status and media fields of its pairs; order and length never change.
// Ids are scoped to the cache, so results that arrive after Close are dropped.
type RunCache struct {
	mu    sync.Mutex
	runID string
	agent domain.ExpertID

	pairs []domain.SentenceImagePair
	index map[string]int

	maxAudio int
	audio    map[string]*list.Element
	lru      *list.List

	dispatched  map[string]struct{}
	audioFailed map[string]struct{}
	closed      bool
	onUpdate    func(domain.SentenceImagePair)
}

type audioEntry struct {
	id  string
	wav []byte
}

func NewRunCache(runID string, agent domain.ExpertID, pairs []domain.SentenceImagePair, maxAudio int) *RunCache {
	if maxAudio <= 0 {
		maxAudio = DefaultMaxAudio
	}
	c := &RunCache{
		runID:       runID,
		agent:       agent,
		pairs:       append([]domain.SentenceImagePair(nil), pairs...),
		index:       make(map[string]int, len(pairs)),
		maxAudio:    maxAudio,
		audio:       make(map[string]*list.Element),
		lru:         list.New(),
		dispatched:  make(map[string]struct{}),
		audioFailed: make(map[string]struct{}),
	}
	for i, p := range c.pairs {
		c.index[p.ID] = i
		if p.AudioData != nil {
			c.storeAudioLocked(p.ID, *p.AudioData)
		}
	}
	return c
}

// FromResponse builds the cache for a response. Legacy responses have no
// pairs; their steps become pending pairs sharing the combined image.
func FromResponse(resp *domain.AgentResponse, maxAudio int) *RunCache {
	if resp == nil {
		return NewRunCache("", "", nil, maxAudio)
	}
	if resp.UseParallelGeneration || len(resp.Pairs) > 0 {
		return NewRunCache(resp.RunID, resp.AgentID, resp.Pairs, maxAudio)
	}
	steps := resp.Steps
	if len(steps) == 0 && resp.Text != "" {
		steps = []domain.ExplanationStep{{StepNumber: 1, Text: resp.Text}}
	}
	pairs := pipeline.StepsToPairs(resp.RunID, steps)
	for i := range pairs {
		pairs[i].Status = domain.PairPending
		if i == 0 && resp.ImageURL != "" {
			img := resp.ImageURL
			pairs[i].ImageURL = &img
			pairs[i].Status = domain.PairReady
		}
	}
	return NewRunCache(resp.RunID, resp.AgentID, pairs, maxAudio)
}

func (c *RunCache) RunID() string          { return c.runID }
func (c *RunCache) Agent() domain.ExpertID { return c.agent }
func (c *RunCache) Len() int               { return len(c.pairs) }

// OnUpdate registers fn to observe every pair mutation. fn runs with the
// cache unlocked.
func (c *RunCache) OnUpdate(fn func(domain.SentenceImagePair)) {
	c.mu.Lock()
	c.onUpdate = fn
	c.mu.Unlock()
}

// Pairs returns a snapshot.
func (c *RunCache) Pairs() []domain.SentenceImagePair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.SentenceImagePair(nil), c.pairs...)
}

func (c *RunCache) Pair(i int) (domain.SentenceImagePair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.pairs) {
		return domain.SentenceImagePair{}, false
	}
	return c.pairs[i], true
}

// Claim marks id as dispatched. It returns false when id is unknown, already
// claimed, or the cache is closed.
func (c *RunCache) Claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if _, ok := c.index[id]; !ok {
		return false
	}
	if _, ok := c.dispatched[id]; ok {
		return false
	}
	c.dispatched[id] = struct{}{}
	return true
}

func (c *RunCache) Dispatched(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.dispatched[id]
	return ok
}

// SetAudio records a narration result. nil marks the pair as failed.
func (c *RunCache) SetAudio(id string, audioData *string) {
	c.update(id, func(p *domain.SentenceImagePair) {
		if audioData == nil {
			p.AudioData = nil
			p.Status = domain.PairError
			c.audioFailed[id] = struct{}{}
			return
		}
		v := *audioData
		p.AudioData = &v
		p.Status = domain.PairReady
		delete(c.audioFailed, id)
		c.storeAudioLocked(id, v)
	})
}

// AudioFailed reports whether narration for id was attempted and failed.
// A pair whose image failed can still be waiting for its audio.
func (c *RunCache) AudioFailed(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.audioFailed[id]
	return ok
}

func (c *RunCache) SetImage(id string, res domain.StepImageResult) {
	c.update(id, func(p *domain.SentenceImagePair) {
		p.ImageURL = res.ImageURL
		p.Status = res.Status
		if p.Status == "" {
			p.Status = domain.PairError
		}
	})
}

func (c *RunCache) SetStatus(id string, status domain.PairStatus) {
	c.update(id, func(p *domain.SentenceImagePair) { p.Status = status })
}

// Audio returns the decoded narration of a pair.
func (c *RunCache) Audio(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.audio[id]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(el)
	return el.Value.(*audioEntry).wav, true
}

// Close evicts cached audio and drops later updates.
func (c *RunCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.audio = make(map[string]*list.Element)
	c.lru.Init()
}

func (c *RunCache) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *RunCache) update(id string, fn func(*domain.SentenceImagePair)) {
	c.mu.Lock()
	i, ok := c.index[id]
	if !ok || c.closed {
		c.mu.Unlock()
		return
	}
	fn(&c.pairs[i])
	snapshot, notify := c.pairs[i], c.onUpdate
	c.mu.Unlock()
	if notify != nil {
		notify(snapshot)
	}
}

func (c *RunCache) storeAudioLocked(id, audioData string) {
	wav, err := media.DecodeAudio(audioData)
	if err != nil || len(wav) == 0 {
		return
	}
	if el, ok := c.audio[id]; ok {
		el.Value.(*audioEntry).wav = wav
		c.lru.MoveToFront(el)
		return
	}
	c.audio[id] = c.lru.PushFront(&audioEntry{id: id, wav: wav})
	for c.lru.Len() > c.maxAudio {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.audio, oldest.Value.(*audioEntry).id)
	}
}
