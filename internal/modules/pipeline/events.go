package pipeline

import (
	"context"

	"github.com/yungbote/kidslab-backend/internal/domain"
)

// Progress event names, published on the run's channel.
const (
	EventExpertSelected      = "ExpertSelected"
	EventExplanationReady    = "ExplanationReady"
	EventReviewDone          = "ReviewDone"
	EventCombinedImageReady  = "CombinedImageReady"
	EventCombinedImageFailed = "CombinedImageFailed"
	EventFirstAudioReady     = "FirstAudioReady"
	EventRunCompleted        = "RunCompleted"
	EventRunFailed           = "RunFailed"
)

// EventSink receives progress events for a run channel.
type EventSink interface {
	Publish(ctx context.Context, channel, event string, data any)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, string, string, any) {}

// RunRecord identifies a run when it starts.
type RunRecord struct {
	RunID    string
	ChildID  string
	Question domain.Question
	Style    domain.ExplanationStyle
	Mode     string
}

// RunResult is what a finished run hands to the recorder.
type RunResult struct {
	Response *domain.AgentResponse
	// ImagePrompt is the prompt the combined or single image was generated from.
	ImagePrompt string
}

// RunRecorder persists run history. Errors are logged, never surfaced.
type RunRecorder interface {
	StartRun(ctx context.Context, rec RunRecord) error
	CompleteRun(ctx context.Context, runID string, res RunResult) error
	FailRun(ctx context.Context, runID string, cause error) error
}

type nopRecorder struct{}

func (nopRecorder) StartRun(context.Context, RunRecord) error            { return nil }
func (nopRecorder) CompleteRun(context.Context, string, RunResult) error { return nil }
func (nopRecorder) FailRun(context.Context, string, error) error         { return nil }

type selectedEvent struct {
	AgentID domain.ExpertID `json:"agentId"`
	Reason  string          `json:"reason"`
}

type explainedEvent struct {
	Text  string `json:"text"`
	Steps int    `json:"steps"`
}

type reviewEvent struct {
	Approved bool `json:"approved"`
	Revised  bool `json:"revised"`
	Skipped  bool `json:"skipped"`
}

type imageEvent struct {
	Ready bool `json:"ready"`
}

type audioEvent struct {
	PairID string `json:"pairId"`
	Ready  bool   `json:"ready"`
}

type failedEvent struct {
	Message string `json:"message"`
}
