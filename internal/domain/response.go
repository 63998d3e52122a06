package domain

import "time"

type PairStatus string

const (
	PairPending    PairStatus = "pending"
	PairGenerating PairStatus = "generating"
	PairReady      PairStatus = "ready"
	PairError      PairStatus = "error"
)

// SentenceImagePair is a step plus its generation status and media.
// ID is stable for the pair's lifetime and scopes deduplication.
type SentenceImagePair struct {
	ExplanationStep
	ID          string     `json:"id"`
	ImageURL    *string    `json:"imageUrl"`
	AudioData   *string    `json:"audioData"`
	Status      PairStatus `json:"status"`
	GeneratedAt *time.Time `json:"generatedAt,omitempty"`
}

type PipelineMetadata struct {
	SelectedAgent    ExpertID        `json:"selectedAgent"`
	SelectionReason  string          `json:"selectionReason"`
	EducatorReview   *EducatorReview `json:"educatorReview,omitempty"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
}

// AgentResponse is the terminal aggregate of one run. Legacy runs fill Steps and
// ImageURL; parallel runs fill Pairs and CombinedImageURL.
type AgentResponse struct {
	RunID                 string              `json:"runId,omitempty"`
	AgentID               ExpertID            `json:"agentId"`
	Text                  string              `json:"text"`
	Steps                 []ExplanationStep   `json:"steps,omitempty"`
	ImageURL              string              `json:"imageUrl,omitempty"`
	Pairs                 []SentenceImagePair `json:"pairs,omitempty"`
	CombinedImageURL      string              `json:"combinedImageUrl,omitempty"`
	UseParallelGeneration bool                `json:"useParallelGeneration,omitempty"`
	FollowUpQuestions     []FollowUpQuestion  `json:"followUpQuestions,omitempty"`
	Pipeline              *PipelineMetadata   `json:"agentPipeline,omitempty"`
}

// StepImageResult is the outcome of an on-demand step image request.
type StepImageResult struct {
	ImageURL *string    `json:"imageUrl"`
	Status   PairStatus `json:"status"`
}
