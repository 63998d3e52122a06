package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yungbote/kidslab-backend/internal/observability"
	"github.com/yungbote/kidslab-backend/internal/platform/envutil"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

// Priority orders work that shares the generative backends' rate budget.
// Higher runs first.
type Priority int

const (
	PriorityText   Priority = 1
	PriorityImage  Priority = 2
	PrioritySpeech Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityText:
		return "text"
	case PriorityImage:
		return "image"
	case PrioritySpeech:
		return "speech"
	default:
		return fmt.Sprintf("p%d", int(p))
	}
}

var ErrClosed = errors.New("scheduler closed")

type Task func(ctx context.Context) error

// Scheduler runs a task under the shared backend budget and returns its error
// once it ran.
type Scheduler interface {
	Submit(ctx context.Context, p Priority, task Task) error
}

// Immediate runs tasks inline.
type Immediate struct{}

func (Immediate) Submit(ctx context.Context, _ Priority, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return task(ctx)
}

type Config struct {
	Workers int
	RPS     float64
	Burst   int
}

func ConfigFromEnv() Config {
	return Config{
		Workers: envutil.Int("SCHEDULER_WORKERS", 4),
		RPS:     envutil.Float("SCHEDULER_RPS", 2),
		Burst:   envutil.Int("SCHEDULER_BURST", 4),
	}
}

type item struct {
	ctx      context.Context
	priority Priority
	seq      uint64
	index    int
	task     Task
	enqueued time.Time
	done     chan error
}

type queue []*item

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// PriorityQueue is a fixed worker pool that always takes the highest priority
// pending task (FIFO within a priority), paced by a token bucket.
type PriorityQueue struct {
	log     *logger.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	cond    *sync.Cond
	pending queue
	depth   map[Priority]int
	seq     uint64
	closed  bool

	wg sync.WaitGroup
}

func NewPriorityQueue(log *logger.Logger, cfg Config) *PriorityQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	q := &PriorityQueue{
		log:     log.With("service", "Scheduler"),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		depth:   map[Priority]int{},
	}
	q.cond = sync.NewCond(&q.mu)
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.log.Info("scheduler started", "workers", cfg.Workers, "rps", cfg.RPS, "burst", cfg.Burst)
	return q
}

func (q *PriorityQueue) Submit(ctx context.Context, p Priority, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	it := &item{ctx: ctx, priority: p, task: task, enqueued: time.Now(), done: make(chan error, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.seq++
	it.seq = q.seq
	heap.Push(&q.pending, it)
	q.depth[p]++
	observability.Current().SetSchedulerQueue(p.String(), q.depth[p])
	q.mu.Unlock()
	q.cond.Signal()

	select {
	case err := <-it.done:
		return err
	case <-ctx.Done():
	}

	q.mu.Lock()
	if it.index >= 0 {
		heap.Remove(&q.pending, it.index)
		q.dequeuedLocked(it.priority)
		q.mu.Unlock()
		return ctx.Err()
	}
	q.mu.Unlock()
	// Taken by a worker or by Close; the task may still be running.
	return <-it.done
}

// Len reports pending tasks.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Depth reports pending tasks of one priority.
func (q *PriorityQueue) Depth(p Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth[p]
}

// Close rejects new submissions, fails pending ones with ErrClosed and waits
// for running tasks.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for q.pending.Len() > 0 {
		it := heap.Pop(&q.pending).(*item)
		q.dequeuedLocked(it.priority)
		it.done <- ErrClosed
	}
	q.mu.Unlock()
	q.cond.Broadcast()
	q.wg.Wait()
}

func (q *PriorityQueue) next() *item {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil
	}
	it := heap.Pop(&q.pending).(*item)
	q.dequeuedLocked(it.priority)
	return it
}

func (q *PriorityQueue) dequeuedLocked(p Priority) {
	q.depth[p]--
	observability.Current().SetSchedulerQueue(p.String(), q.depth[p])
}

func (q *PriorityQueue) worker() {
	defer q.wg.Done()
	for {
		it := q.next()
		if it == nil {
			return
		}
		if err := it.ctx.Err(); err != nil {
			it.done <- err
			continue
		}
		if err := q.limiter.Wait(it.ctx); err != nil {
			it.done <- err
			continue
		}
		observability.Current().ObserveSchedulerWait(it.priority.String(), time.Since(it.enqueued))
		it.done <- q.run(it)
	}
}

func (q *PriorityQueue) run(it *item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("scheduled task panicked", "priority", it.priority.String(), "panic", r)
			err = fmt.Errorf("scheduled task panicked: %v", r)
		}
	}()
	return it.task(it.ctx)
}
