package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/modules/experts"
	"github.com/yungbote/kidslab-backend/internal/modules/generative"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

const (
	selectorTemperature = 0.3
	// missingReason is used when the model picks an expert but gives no reason.
	missingReason = "きみのしつもんにこたえられるから"
)

type Selection struct {
	AgentID domain.ExpertID `json:"agentId"`
	Reason  string          `json:"reason"`
}

// Selector routes a question to one persona. It never fails.
type Selector struct {
	log     *logger.Logger
	text    generative.TextModel
	catalog *experts.Catalog
}

func NewSelector(log *logger.Logger, text generative.TextModel, catalog *experts.Catalog) *Selector {
	return &Selector{log: log.With("service", "ExpertSelector"), text: text, catalog: catalog}
}

func (s *Selector) Select(ctx context.Context, q domain.Question) Selection {
	fallback := Selection{AgentID: s.catalog.DefaultID(), Reason: experts.DefaultReason}
	if s.text == nil {
		return fallback
	}
	raw, err := s.text.Complete(ctx, generative.UserPrompt(s.Prompt(q), selectorTemperature, true))
	if err != nil {
		s.log.Warn("expert selection failed; using default", "error", err)
		return fallback
	}
	sel, err := s.parse(raw)
	if err != nil {
		s.log.Warn("expert selection unusable; using default", "error", err)
		return fallback
	}
	return sel
}

func (s *Selector) parse(raw string) (Selection, error) {
	body := StripCodeFence(raw)
	var out struct {
		AgentID string `json:"agentId"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		// Some models answer with the bare id.
		out.AgentID = strings.Trim(body, "\"'")
	}
	id := sanitizeID(out.AgentID)
	if id == "" {
		return Selection{}, fmt.Errorf("empty agent id")
	}
	if !s.selectable(id) {
		return Selection{}, fmt.Errorf("unknown agent id %q", id)
	}
	reason := strings.TrimSpace(out.Reason)
	if reason == "" {
		reason = missingReason
	}
	return Selection{AgentID: id, Reason: reason}, nil
}

func (s *Selector) selectable(id domain.ExpertID) bool {
	for _, e := range s.catalog.Selectable() {
		if e.ID == id {
			return true
		}
	}
	return false
}

func sanitizeID(s string) domain.ExpertID {
	s = strings.ToLower(StripCodeFence(s))
	s = strings.Join(strings.Fields(s), "")
	return domain.ExpertID(s)
}

// Prompt renders the classification prompt for q.
func (s *Selector) Prompt(q domain.Question) string {
	var b strings.Builder
	b.WriteString("You are an orchestrator for a Kids Science Lab.\n")
	b.WriteString("Your task is to classify the user's question and select the best expert to answer it, considering the conversation history.\n\n")
	b.WriteString("Available Experts:\n")
	for _, e := range s.catalog.Selectable() {
		if e.ID == s.catalog.ReviewerID() {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", e.ID, e.Specialty)
	}
	fmt.Fprintf(&b, "\nIf the question doesn't fit any specific expert, choose '%s' as a default or '%s' if it's about general guidance or life advice.\n\n",
		s.catalog.DefaultID(), s.catalog.ReviewerID())

	if len(q.History) > 0 {
		b.WriteString("Current Conversation Context:\n")
		lines := make([]turnLine, 0, len(q.History))
		for _, t := range q.History {
			lines = append(lines, turnLine{speaker: t.Role, content: t.Content})
		}
		historyLines(&b, lines)
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "User Question: %q\n\n", q.Text)
	b.WriteString("Respond in JSON format with the agent ID and a child-friendly reason (in Japanese) for why this expert was chosen.\n")
	b.WriteString("The reason should be simple, warm, and easy for elementary school children to understand (e.g., \"うちゅうのことがとくいだから\").\n\n")
	b.WriteString("JSON format:\n")
	fmt.Fprintf(&b, "{\n  \"agentId\": \"%s\",\n  \"reason\": \"%s\"\n}", s.catalog.DefaultID(), experts.DefaultReason)
	return b.String()
}
