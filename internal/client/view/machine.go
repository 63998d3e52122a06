package view

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/kidslab-backend/internal/client/api"
	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/platform/httpx"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

type State string

const (
	StateInput           State = "input"
	StateSelecting       State = "selecting"
	StateImageGenerating State = "imageGenerating"
	StateResult          State = "result"
)

const (
	RevealDuration = 2300 * time.Millisecond
	ResultDelay    = 500 * time.Millisecond
	ProgressTick   = 300 * time.Millisecond

	progressStep    = 2.5
	progressCeiling = 90.0
)

var ErrBusy = errors.New("view: a question is already in flight")

// Progress is the simulated percentage shown while a response is generated.
// It climbs toward 90 one step per tick and snaps to 100 once done.
func Progress(elapsed time.Duration, done bool) float64 {
	if done {
		return 100
	}
	if elapsed <= 0 {
		return 0
	}
	p := float64(elapsed/ProgressTick) * progressStep
	if p > progressCeiling {
		return progressCeiling
	}
	return p
}

type Backend interface {
	SelectExpert(ctx context.Context, q domain.Question) (api.Selection, error)
	GenerateResponse(ctx context.Context, req api.GenerateRequest) (*domain.AgentResponse, error)
}

type Transition struct {
	From   State
	To     State
	Expert domain.ExpertID
}

type Options struct {
	Mode  string
	Style domain.ExplanationStyle
	// OnTransition and OnProgress run on the asking goroutine or the progress
	// ticker; they must not block.
	OnTransition func(Transition)
	OnProgress   func(float64)
}

// Machine drives one child's question flow:
// input -> selecting -> imageGenerating -> result, and result -> selecting
// on the next question.
type Machine struct {
	log     *logger.Logger
	backend Backend
	opts    Options

	reveal      time.Duration
	resultDelay time.Duration
	tick        time.Duration
	sleep       func(context.Context, time.Duration) error

	mu           sync.Mutex
	state        State
	busy         bool
	question     string
	lastQuestion string
	lastExpert   domain.ExpertID
	reason       string
	latest       *domain.AgentResponse
	progress     float64
}

func NewMachine(log *logger.Logger, backend Backend, opts Options) *Machine {
	return &Machine{
		log:         log.With("service", "ViewMachine"),
		backend:     backend,
		opts:        opts,
		reveal:      RevealDuration,
		resultDelay: ResultDelay,
		tick:        ProgressTick,
		sleep:       httpx.Sleep,
		state:       StateInput,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Question is the text of the last question asked. It survives failures so
// the child does not have to type or say it again.
func (m *Machine) Question() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.question
}

func (m *Machine) Expert() (domain.ExpertID, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastExpert, m.reason
}

func (m *Machine) Latest() *domain.AgentResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

func (m *Machine) Progress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// Ask runs question through selection and generation. Any failure returns
// the machine to input.
func (m *Machine) Ask(ctx context.Context, question string) (*domain.AgentResponse, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("view: question is required")
	}
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	m.busy = true
	m.question = question
	m.progress = 0
	prevExpert := m.lastExpert
	history := m.historyLocked(question)
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
	}()

	q := domain.Question{Text: question, History: history}
	m.transition(StateSelecting, "")
	sel, err := m.backend.SelectExpert(ctx, q)
	if err != nil || sel.AgentID == "" {
		if err == nil {
			err = fmt.Errorf("view: no expert selected")
		}
		return nil, m.fail("select expert", err)
	}
	m.mu.Lock()
	m.lastExpert, m.reason = sel.AgentID, sel.Reason
	m.mu.Unlock()

	if sel.AgentID != prevExpert {
		if err := m.sleep(ctx, m.reveal); err != nil {
			return nil, m.fail("reveal", err)
		}
	}
	m.transition(StateImageGenerating, sel.AgentID)

	resp, err := m.generate(ctx, api.GenerateRequest{
		Question:        question,
		History:         history,
		AgentID:         sel.AgentID,
		SelectionReason: sel.Reason,
		Style:           m.opts.Style,
		Mode:            m.opts.Mode,
	})
	if err != nil {
		return nil, m.fail("generate response", err)
	}

	m.mu.Lock()
	m.latest = resp
	m.lastQuestion = question
	m.mu.Unlock()
	if err := m.sleep(ctx, m.resultDelay); err != nil {
		return nil, m.fail("result delay", err)
	}
	m.transition(StateResult, sel.AgentID)
	return resp, nil
}

func (m *Machine) generate(ctx context.Context, req api.GenerateRequest) (*domain.AgentResponse, error) {
	tickCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		start := time.Now()
		t := time.NewTicker(m.tick)
		defer t.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-t.C:
				m.setProgress(Progress(time.Since(start), false))
			}
		}
	}()
	resp, err := m.backend.GenerateResponse(ctx, req)
	stop()
	wg.Wait()
	if err != nil {
		return nil, err
	}
	m.setProgress(Progress(0, true))
	return resp, nil
}

// historyLocked mirrors what the child just saw: the previous question when
// it differs, then the previous answer.
func (m *Machine) historyLocked(question string) []domain.Turn {
	if m.latest == nil {
		return nil
	}
	var out []domain.Turn
	if m.lastQuestion != "" && m.lastQuestion != question {
		out = append(out, domain.Turn{Role: "user", Content: m.lastQuestion})
	}
	return append(out, domain.Turn{Role: "assistant", Content: m.latest.Text})
}

func (m *Machine) fail(stage string, err error) error {
	m.log.Warn("question failed", "stage", stage, "error", err)
	m.setProgress(0)
	m.transition(StateInput, "")
	return fmt.Errorf("%s: %w", stage, err)
}

func (m *Machine) setProgress(p float64) {
	m.mu.Lock()
	m.progress = p
	fn := m.opts.OnProgress
	m.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func (m *Machine) transition(to State, expert domain.ExpertID) {
	m.mu.Lock()
	from := m.state
	m.state = to
	fn := m.opts.OnTransition
	m.mu.Unlock()
	if fn != nil {
		fn(Transition{From: from, To: to, Expert: expert})
	}
}
