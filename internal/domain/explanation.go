package domain

import "strings"

// ExpertID names a persona from the expert catalog.
type ExpertID string

const (
	ExpertOrchestrator ExpertID = "orchestrator"
	ExpertScientist    ExpertID = "scientist"
	ExpertBiologist    ExpertID = "biologist"
	ExpertAstronomer   ExpertID = "astronomer"
	ExpertHistorian    ExpertID = "historian"
	ExpertArtist       ExpertID = "artist"
	ExpertEducator     ExpertID = "educator"
)

// ExplanationStyle selects the instruction line injected into the explanation prompt.
type ExplanationStyle string

const (
	StyleDefault  ExplanationStyle = "default"
	StyleMetaphor ExplanationStyle = "metaphor"
	StyleSimple   ExplanationStyle = "simple"
	StyleDetail   ExplanationStyle = "detail"
)

// ParseStyle maps unknown or empty values to StyleDefault.
func ParseStyle(s string) ExplanationStyle {
	switch ExplanationStyle(strings.ToLower(strings.TrimSpace(s))) {
	case StyleMetaphor:
		return StyleMetaphor
	case StyleSimple:
		return StyleSimple
	case StyleDetail:
		return StyleDetail
	default:
		return StyleDefault
	}
}

// Turn is one entry of the recent conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Question is the immutable input of one pipeline run.
type Question struct {
	Text    string `json:"question"`
	History []Turn `json:"history,omitempty"`
}

// ExplanationStep is one self-contained slice of an explanation.
type ExplanationStep struct {
	StepNumber        int    `json:"stepNumber"`
	Text              string `json:"text"`
	VisualDescription string `json:"visualDescription"`
}

type EducatorReview struct {
	Approved     bool              `json:"approved"`
	Feedback     string            `json:"feedback"`
	RevisedText  string            `json:"revisedText,omitempty"`
	RevisedSteps []ExplanationStep `json:"revisedSteps,omitempty"`
}

// HasRevision reports whether the review replaces the working explanation.
func (r *EducatorReview) HasRevision() bool {
	return r != nil && !r.Approved && len(r.RevisedSteps) > 0
}

type FollowUpQuestion struct {
	Question       string   `json:"question"`
	SuggestedAgent ExpertID `json:"suggestedAgent"`
	Emoji          string   `json:"emoji"`
}
