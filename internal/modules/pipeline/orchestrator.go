package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/modules/experts"
	"github.com/yungbote/kidslab-backend/internal/modules/generation"
	"github.com/yungbote/kidslab-backend/internal/modules/media"
	"github.com/yungbote/kidslab-backend/internal/observability"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

// ErrPipelineFailed is returned when a run could not produce any response.
var ErrPipelineFailed = errors.New("pipeline failed")

const (
	ModeParallel = "parallel"
	ModeLegacy   = "legacy"
)

// ParseMode maps unknown values to def.
func ParseMode(s, def string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ModeParallel:
		return ModeParallel
	case ModeLegacy:
		return ModeLegacy
	default:
		return def
	}
}

type Request struct {
	// RunID scopes pair ids and names the event channel; generated when empty.
	RunID   string
	ChildID string
	// AgentID skips selection when set.
	AgentID         domain.ExpertID
	SelectionReason string
	Question        domain.Question
	Style           domain.ExplanationStyle
}

type Deps struct {
	Log       *logger.Logger
	Catalog   *experts.Catalog
	Selector  *generation.Selector
	Explainer *generation.Explainer
	Reviewer  *generation.Reviewer
	FollowUps *generation.FollowUps
	Visual    *media.Visual
	Speech    *media.Speech
	Events    EventSink
	Runs      RunRecorder
}

type Orchestrator struct {
	log  *logger.Logger
	deps Deps
	now  func() time.Time
}

func New(deps Deps) (*Orchestrator, error) {
	if deps.Log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if deps.Catalog == nil || deps.Selector == nil || deps.Explainer == nil || deps.Visual == nil {
		return nil, fmt.Errorf("pipeline: missing deps")
	}
	if deps.Events == nil {
		deps.Events = nopSink{}
	}
	if deps.Runs == nil {
		deps.Runs = nopRecorder{}
	}
	return &Orchestrator{log: deps.Log.With("service", "PipelineOrchestrator"), deps: deps, now: time.Now}, nil
}

// Select runs expert selection on its own.
func (o *Orchestrator) Select(ctx context.Context, q domain.Question) generation.Selection {
	start := time.Now()
	sel := o.deps.Selector.Select(ctx, q)
	observability.Current().ObservePipelineStage("select", "select", "ok", time.Since(start))
	return sel
}

// run wraps a flow with tracing, recording, panic recovery and the terminal events.
func (o *Orchestrator) run(ctx context.Context, mode string, req Request, flow func(ctx context.Context, rc *runContext) (*domain.AgentResponse, error)) (resp *domain.AgentResponse, err error) {
	if strings.TrimSpace(req.RunID) == "" {
		req.RunID = uuid.NewString()
	}
	req.Style = domain.ParseStyle(string(req.Style))
	ctx, span := observability.StartSpan(ctx, "pipeline."+mode,
		attribute.String("run_id", req.RunID),
		attribute.String("style", string(req.Style)),
	)
	defer span.End()

	rc := &runContext{o: o, mode: mode, req: req, started: o.now(), log: o.log.With("run_id", req.RunID, "mode", mode)}
	if rerr := o.deps.Runs.StartRun(ctx, RunRecord{
		RunID:    req.RunID,
		ChildID:  req.ChildID,
		Question: req.Question,
		Style:    req.Style,
		Mode:     mode,
	}); rerr != nil {
		rc.log.Warn("run record start failed", "error", rerr)
	}

	defer func() {
		if r := recover(); r != nil {
			rc.log.Error("pipeline panic", "panic", r, "stack", string(debug.Stack()))
			resp, err = nil, fmt.Errorf("%w: %v", ErrPipelineFailed, r)
		}
		status := "ok"
		if err != nil {
			status = "failed"
			span.RecordError(err)
			o.deps.Events.Publish(ctx, req.RunID, EventRunFailed, failedEvent{Message: "pipeline failed"})
			if ferr := o.deps.Runs.FailRun(context.WithoutCancel(ctx), req.RunID, err); ferr != nil {
				rc.log.Warn("run record fail failed", "error", ferr)
			}
		}
		observability.Current().IncPipelineRun(mode, status)
	}()

	resp, err = flow(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipelineFailed, err)
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipelineFailed, cerr)
	}
	resp.RunID = req.RunID
	resp.Pipeline.ProcessingTimeMs = o.now().Sub(rc.started).Milliseconds()

	if rerr := o.deps.Runs.CompleteRun(context.WithoutCancel(ctx), req.RunID, RunResult{Response: resp, ImagePrompt: rc.imagePrompt}); rerr != nil {
		rc.log.Warn("run record complete failed", "error", rerr)
	}
	o.deps.Events.Publish(ctx, req.RunID, EventRunCompleted, resp)
	rc.log.Info("pipeline completed",
		"agent", resp.AgentID,
		"steps", len(resp.Steps)+len(resp.Pairs),
		"processing_ms", resp.Pipeline.ProcessingTimeMs,
	)
	return resp, nil
}

type runContext struct {
	o           *Orchestrator
	mode        string
	req         Request
	started     time.Time
	log         *logger.Logger
	imagePrompt string
}

func (rc *runContext) stage(name string, fn func()) {
	start := time.Now()
	fn()
	observability.Current().ObservePipelineStage(rc.mode, name, "ok", time.Since(start))
}

func (rc *runContext) publish(ctx context.Context, event string, data any) {
	rc.o.deps.Events.Publish(ctx, rc.req.RunID, event, data)
}

// selectAndExplain is the shared head of both flows.
func (rc *runContext) selectAndExplain(ctx context.Context) (generation.Selection, generation.Explanation) {
	sel := generation.Selection{AgentID: rc.req.AgentID, Reason: rc.req.SelectionReason}
	if sel.AgentID == "" || !rc.o.deps.Catalog.IsKnown(sel.AgentID) {
		rc.stage("select", func() { sel = rc.o.deps.Selector.Select(ctx, rc.req.Question) })
	}
	rc.publish(ctx, EventExpertSelected, selectedEvent{AgentID: sel.AgentID, Reason: sel.Reason})

	var ex generation.Explanation
	rc.stage("explain", func() { ex = rc.o.deps.Explainer.Explain(ctx, sel.AgentID, rc.req.Question, rc.req.Style) })
	rc.publish(ctx, EventExplanationReady, explainedEvent{Text: ex.Text, Steps: len(ex.Steps)})
	return sel, ex
}

// Legacy runs select, explain, one image prompt and one image, in sequence.
func (o *Orchestrator) Legacy(ctx context.Context, req Request) (*domain.AgentResponse, error) {
	return o.run(ctx, ModeLegacy, req, func(ctx context.Context, rc *runContext) (*domain.AgentResponse, error) {
		sel, ex := rc.selectAndExplain(ctx)

		if ex.HasSteps() {
			rc.imagePrompt = media.BuildCombinedPrompt(ex.Steps)
		} else {
			rc.stage("image_prompt", func() { rc.imagePrompt = o.deps.Visual.SingleImagePrompt(ctx, rc.req.Question.Text, ex.Text) })
		}

		var (
			url string
			ok  bool
		)
		rc.stage("image", func() { url, ok = o.deps.Visual.SynthesizeImage(ctx, rc.imagePrompt) })
		if ok {
			rc.publish(ctx, EventCombinedImageReady, imageEvent{Ready: true})
		} else {
			rc.publish(ctx, EventCombinedImageFailed, imageEvent{Ready: false})
		}

		return &domain.AgentResponse{
			AgentID:  sel.AgentID,
			Text:     ex.Text,
			Steps:    ex.Steps,
			ImageURL: url,
			Pipeline: &domain.PipelineMetadata{SelectedAgent: sel.AgentID, SelectionReason: sel.Reason},
		}, nil
	})
}

// Parallel is the fast-first-step flow: review and follow-ups run together,
// then the combined image and the first pair's narration run together.
func (o *Orchestrator) Parallel(ctx context.Context, req Request) (*domain.AgentResponse, error) {
	return o.run(ctx, ModeParallel, req, func(ctx context.Context, rc *runContext) (*domain.AgentResponse, error) {
		sel, ex := rc.selectAndExplain(ctx)

		review, followUps := rc.reviewAndSuggest(ctx, sel.AgentID, ex)
		ex = generation.Apply(ex, review)

		pairs := StepsToPairs(rc.req.RunID, ex.Steps)
		resp := &domain.AgentResponse{
			AgentID:               sel.AgentID,
			Text:                  ex.Text,
			Pairs:                 pairs,
			UseParallelGeneration: true,
			FollowUpQuestions:     followUps,
			Pipeline:              &domain.PipelineMetadata{SelectedAgent: sel.AgentID, SelectionReason: sel.Reason},
		}
		if review != nil {
			resp.Pipeline.EducatorReview = &domain.EducatorReview{Approved: review.Approved, Feedback: review.Feedback}
		}
		if len(pairs) == 0 {
			return resp, nil
		}

		rc.imagePrompt = media.BuildCombinedPrompt(ex.Steps)
		var (
			imageURL string
			imageOK  bool
			audio    string
		)
		var g errgroup.Group
		g.Go(func() error {
			rc.stage("image", func() { imageURL, imageOK = o.deps.Visual.SynthesizeImage(ctx, rc.imagePrompt) })
			return nil
		})
		g.Go(func() error {
			rc.stage("speech", func() { audio = rc.firstAudio(ctx, sel.AgentID, pairs[0]) })
			return nil
		})
		_ = g.Wait()

		now := o.now()
		if imageOK {
			resp.CombinedImageURL = imageURL
			for i := range pairs {
				url := imageURL
				pairs[i].ImageURL = &url
			}
			// Later pairs stay generating until the client fills their audio.
			pairs[0].Status = domain.PairReady
			pairs[0].GeneratedAt = &now
			rc.publish(ctx, EventCombinedImageReady, imageEvent{Ready: true})
		} else {
			for i := range pairs {
				pairs[i].Status = domain.PairError
			}
			rc.publish(ctx, EventCombinedImageFailed, imageEvent{Ready: false})
		}
		if audio != "" {
			pairs[0].AudioData = &audio
		}
		rc.publish(ctx, EventFirstAudioReady, audioEvent{PairID: pairs[0].ID, Ready: audio != ""})
		return resp, nil
	})
}

// reviewAndSuggest runs the reviewer (unless the expert is the reviewer) and
// the follow-up suggester concurrently.
func (rc *runContext) reviewAndSuggest(ctx context.Context, agent domain.ExpertID, ex generation.Explanation) (*domain.EducatorReview, []domain.FollowUpQuestion) {
	var (
		review    *domain.EducatorReview
		followUps []domain.FollowUpQuestion
		g         errgroup.Group
	)
	reviewer := rc.o.deps.Reviewer
	skip := reviewer == nil || reviewer.Skip(agent)
	if !skip {
		g.Go(func() error {
			rc.stage("review", func() {
				r, err := reviewer.Review(ctx, agent, rc.req.Question, ex)
				if err != nil {
					rc.log.Warn("review failed; keeping explanation", "error", err)
					return
				}
				review = r
			})
			return nil
		})
	}
	if rc.o.deps.FollowUps != nil {
		g.Go(func() error {
			rc.stage("follow_ups", func() { followUps = rc.o.deps.FollowUps.Suggest(ctx, agent, rc.req.Question, ex) })
			return nil
		})
	}
	_ = g.Wait()

	rc.publish(ctx, EventReviewDone, reviewEvent{
		Approved: review == nil || review.Approved,
		Revised:  review.HasRevision(),
		Skipped:  skip,
	})
	return review, followUps
}

func (rc *runContext) firstAudio(ctx context.Context, agent domain.ExpertID, pair domain.SentenceImagePair) string {
	audio, _ := rc.o.speak(ctx, agent, pair.Text, pair.ID)
	return audio
}
