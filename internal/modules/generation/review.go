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
	reviewerTemperature = 0.3
	followUpTemperature = 0.8

	MaxFollowUps  = 3
	followUpEmoji = "🔍"
)

// Reviewer checks an explanation for the target age band and may rewrite it.
type Reviewer struct {
	log     *logger.Logger
	text    generative.TextModel
	catalog *experts.Catalog
}

func NewReviewer(log *logger.Logger, text generative.TextModel, catalog *experts.Catalog) *Reviewer {
	return &Reviewer{log: log.With("service", "EducatorReviewer"), text: text, catalog: catalog}
}

// Skip reports whether agent is the reviewer persona itself.
func (r *Reviewer) Skip(agent domain.ExpertID) bool {
	return agent == r.catalog.ReviewerID()
}

// Review returns the reviewer's verdict. Revised steps keep the original
// visual descriptions so an already started illustration still matches.
func (r *Reviewer) Review(ctx context.Context, agent domain.ExpertID, q domain.Question, ex Explanation) (*domain.EducatorReview, error) {
	if r.text == nil {
		return nil, fmt.Errorf("reviewer: no text model")
	}
	raw, err := r.text.Complete(ctx, generative.UserPrompt(r.Prompt(agent, q, ex), reviewerTemperature, true))
	if err != nil {
		return nil, fmt.Errorf("reviewer: %w", err)
	}
	var out struct {
		Approved     *bool         `json:"approved"`
		Feedback     string        `json:"feedback"`
		RevisedText  string        `json:"revisedText"`
		RevisedSteps []payloadStep `json:"revisedSteps"`
	}
	if err := json.Unmarshal([]byte(StripCodeFence(raw)), &out); err != nil {
		return nil, fmt.Errorf("reviewer: decode: %w", err)
	}
	if out.Approved == nil {
		return nil, fmt.Errorf("reviewer: missing approved flag")
	}
	review := &domain.EducatorReview{
		Approved:    *out.Approved,
		Feedback:    strings.TrimSpace(out.Feedback),
		RevisedText: strings.TrimSpace(out.RevisedText),
	}
	if !review.Approved && len(out.RevisedSteps) > 0 {
		steps, _ := normalizeSteps(out.RevisedSteps)
		for i := range steps {
			if i < len(ex.Steps) {
				steps[i].VisualDescription = ex.Steps[i].VisualDescription
			}
		}
		if len(steps) > 0 {
			review.RevisedSteps = steps
		}
	}
	return review, nil
}

// Apply returns the explanation the run should continue with.
func Apply(ex Explanation, review *domain.EducatorReview) Explanation {
	if !review.HasRevision() {
		return ex
	}
	out := Explanation{Text: ex.Text, Steps: review.RevisedSteps}
	if review.RevisedText != "" {
		out.Text = review.RevisedText
	}
	return out
}

func (r *Reviewer) Prompt(agent domain.ExpertID, q domain.Question, ex Explanation) string {
	reviewer := r.catalog.Get(r.catalog.ReviewerID())
	author := r.catalog.Get(agent)

	var b strings.Builder
	b.WriteString(strings.TrimSpace(reviewer.Persona))
	fmt.Fprintf(&b, "\n\n%sが書いた以下の解説が、小学生（低学年〜中学年）にとって適切かどうかを確認してください。\n\n", author.NameJa)
	b.WriteString(`### 確認ポイント
1. 難しい専門用語を使っていないか
2. 各ステップがそれだけで理解できる独立した文になっているか
3. 怖がらせる表現や、まちがった内容がないか

### ルール
- 問題がなければ approved を true にし、revisedText と revisedSteps は省略してください。
- 直したほうがよい場合は approved を false にし、書き直した revisedText と revisedSteps を返してください。
- revisedSteps のステップ数、stepNumber、visualDescription は元のまま変えないでください。

### JSON形式
{
  "approved": true,
  "feedback": "保護者向けの短いコメント",
  "revisedText": "書き直した要約（修正する場合のみ）",
  "revisedSteps": [
    {"stepNumber": 1, "text": "書き直したステップ1", "visualDescription": "元のまま"}
  ]
}

`)
	fmt.Fprintf(&b, "質問: \"%s\"\n", q.Text)
	fmt.Fprintf(&b, "要約: %s\n", ex.Text)
	writeSteps(&b, ex.Steps)
	return b.String()
}

// FollowUps proposes next questions and who should answer them.
type FollowUps struct {
	log     *logger.Logger
	text    generative.TextModel
	catalog *experts.Catalog
}

func NewFollowUps(log *logger.Logger, text generative.TextModel, catalog *experts.Catalog) *FollowUps {
	return &FollowUps{log: log.With("service", "FollowUpSuggester"), text: text, catalog: catalog}
}

// Suggest returns at most MaxFollowUps questions; failures yield none.
func (f *FollowUps) Suggest(ctx context.Context, agent domain.ExpertID, q domain.Question, ex Explanation) []domain.FollowUpQuestion {
	if f.text == nil {
		return nil
	}
	raw, err := f.text.Complete(ctx, generative.UserPrompt(f.Prompt(agent, q, ex), followUpTemperature, true))
	if err != nil {
		f.log.Warn("follow-up request failed", "error", err)
		return nil
	}
	items, err := decodeFollowUps(raw)
	if err != nil {
		f.log.Warn("follow-up response unusable", "error", err)
		return nil
	}
	out := make([]domain.FollowUpQuestion, 0, MaxFollowUps)
	for _, it := range items {
		question := strings.TrimSpace(it.Question)
		if question == "" {
			continue
		}
		id := sanitizeID(string(it.SuggestedAgent))
		if !f.catalog.IsKnown(id) || id == domain.ExpertOrchestrator {
			id = f.catalog.DefaultID()
		}
		emoji := strings.TrimSpace(it.Emoji)
		if emoji == "" {
			emoji = followUpEmoji
		}
		out = append(out, domain.FollowUpQuestion{Question: question, SuggestedAgent: id, Emoji: emoji})
		if len(out) == MaxFollowUps {
			break
		}
	}
	return out
}

// decodeFollowUps accepts {"questions":[...]} or a bare array.
func decodeFollowUps(raw string) ([]domain.FollowUpQuestion, error) {
	body := []byte(StripCodeFence(raw))
	var wrapped struct {
		Questions []domain.FollowUpQuestion `json:"questions"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Questions != nil {
		return wrapped.Questions, nil
	}
	var list []domain.FollowUpQuestion
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode follow-ups: %w", err)
	}
	return list, nil
}

func (f *FollowUps) Prompt(agent domain.ExpertID, q domain.Question, ex Explanation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%sが子供の質問に答えました。この子が次に知りたくなりそうな質問を%dつ考えてください。\n", f.catalog.Get(agent).NameJa, MaxFollowUps)
	b.WriteString("質問は子供の言葉（ひらがな多め）で短く書き、それぞれに答えるのにいちばん合う専門家を選んでください。\n\n")
	b.WriteString("専門家:\n")
	for _, e := range f.catalog.Selectable() {
		fmt.Fprintf(&b, "- %s: %s\n", e.ID, e.Specialty)
	}
	b.WriteString(`
### JSON形式
{
  "questions": [
    {"question": "つぎのしつもん", "suggestedAgent": "scientist", "emoji": "🔭"}
  ]
}

`)
	fmt.Fprintf(&b, "質問: \"%s\"\n", q.Text)
	fmt.Fprintf(&b, "答え: %s\n", ex.Text)
	writeSteps(&b, ex.Steps)
	return b.String()
}

func writeSteps(b *strings.Builder, steps []domain.ExplanationStep) {
	if len(steps) == 0 {
		return
	}
	b.WriteString("ステップ:\n")
	for _, s := range steps {
		fmt.Fprintf(b, "%d. %s\n", s.StepNumber, s.Text)
	}
}
