package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/modules/experts"
	"github.com/yungbote/kidslab-backend/internal/modules/generative"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

const (
	explainerTemperature = 0.7

	// StepCount is the number of steps requested from the model; longer answers are truncated.
	StepCount = 4

	FailureText    = "申し訳ありません、通信のエラーで答えられませんでした。"
	EmptyTextReply = "ごめんね、ちょっとよくわからなかったよ。"
)

// Explanation is a summary plus its ordered steps. No steps means summary-only.
type Explanation struct {
	Text  string                   `json:"text"`
	Steps []domain.ExplanationStep `json:"steps"`
}

func (e Explanation) HasSteps() bool { return len(e.Steps) > 0 }

// ---- decode ----

// DecodeResult is either DecodedExplanation or DecodeError.
type DecodeResult interface{ isDecodeResult() }

type DecodedExplanation struct {
	Explanation Explanation
	// Dropped counts steps removed for having no text.
	Dropped int
}

type DecodeError struct {
	Reason string
	Raw    string
}

func (DecodedExplanation) isDecodeResult() {}
func (DecodeError) isDecodeResult()        {}

func (e DecodeError) Error() string { return "decode explanation: " + e.Reason }

type explanationPayload struct {
	Text  *string       `json:"text"`
	Steps []payloadStep `json:"steps"`
}

type payloadStep struct {
	StepNumber        int    `json:"stepNumber"`
	Text              string `json:"text"`
	VisualDescription string `json:"visualDescription"`
}

// DecodeExplanation parses the model's JSON answer. Steps are ordered by their
// stepNumber, blank steps are dropped and the rest renumbered 1..N.
func DecodeExplanation(raw string) DecodeResult {
	body := StripCodeFence(raw)
	if body == "" {
		return DecodeError{Reason: "empty response", Raw: raw}
	}
	var p explanationPayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return DecodeError{Reason: err.Error(), Raw: raw}
	}
	if p.Text == nil && p.Steps == nil {
		return DecodeError{Reason: "missing text and steps", Raw: raw}
	}
	out := DecodedExplanation{Explanation: Explanation{Text: EmptyTextReply}}
	if p.Text != nil && strings.TrimSpace(*p.Text) != "" {
		out.Explanation.Text = strings.TrimSpace(*p.Text)
	}
	steps, dropped := normalizeSteps(p.Steps)
	out.Explanation.Steps = steps
	out.Dropped = dropped
	return out
}

func normalizeSteps(in []payloadStep) ([]domain.ExplanationStep, int) {
	kept := make([]payloadStep, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		kept = append(kept, s)
	}
	dropped := len(in) - len(kept)
	sort.SliceStable(kept, func(i, j int) bool {
		return stepOrder(kept[i].StepNumber) < stepOrder(kept[j].StepNumber)
	})
	if len(kept) > StepCount {
		dropped += len(kept) - StepCount
		kept = kept[:StepCount]
	}
	out := make([]domain.ExplanationStep, 0, len(kept))
	for i, s := range kept {
		out = append(out, domain.ExplanationStep{
			StepNumber:        i + 1,
			Text:              strings.TrimSpace(s.Text),
			VisualDescription: strings.TrimSpace(s.VisualDescription),
		})
	}
	return out, dropped
}

// stepOrder sorts unnumbered steps after numbered ones.
func stepOrder(n int) int {
	if n <= 0 {
		return math.MaxInt
	}
	return n
}

// ---- explainer ----

type Explainer struct {
	log     *logger.Logger
	text    generative.TextModel
	catalog *experts.Catalog
}

func NewExplainer(log *logger.Logger, text generative.TextModel, catalog *experts.Catalog) *Explainer {
	return &Explainer{log: log.With("service", "Explainer"), text: text, catalog: catalog}
}

// Explain never fails; on any error it returns FailureText with no steps.
func (e *Explainer) Explain(ctx context.Context, agent domain.ExpertID, q domain.Question, style domain.ExplanationStyle) Explanation {
	failed := Explanation{Text: FailureText}
	if e.text == nil {
		return failed
	}
	expert := e.catalog.Get(agent)
	raw, err := e.text.Complete(ctx, generative.UserPrompt(ExplanationPrompt(expert, q, style), explainerTemperature, true))
	if err != nil {
		e.log.Warn("explanation request failed", "agent", expert.ID, "error", err)
		return failed
	}
	switch r := DecodeExplanation(raw).(type) {
	case DecodedExplanation:
		if r.Dropped > 0 {
			e.log.Debug("explanation steps dropped", "agent", expert.ID, "dropped", r.Dropped)
		}
		return r.Explanation
	case DecodeError:
		e.log.Warn("explanation response unusable", "agent", expert.ID, "error", r.Error())
	}
	return failed
}

const defaultStyleInstruction = `# Role: 世界一の知識を持ち、子供と遊ぶのが上手な「物知り博士」
# Persona: 威厳があるが温厚。「ほっほっほ」「おや、いい質問だね！」といった親しみやすい老博士の口調。
# Constraints:
1. 専門用語は一切使わず、小学校低学年が理解できる言葉のみで構成すること。
2. 比喩の精度を最優先する。内容の本質と、例え（公園、お菓子、遊び等）が論理的に一致していること。
3. 構成：質問を褒める ＞ 生活に密着した比喩で解説 ＞ 子供の好奇心を応援して締める。
4. 読み聞かせのような、目線を感じさせる優しいトーンを維持すること。`

// StyleInstruction is the style line injected into the explanation prompt.
func StyleInstruction(style domain.ExplanationStyle) string {
	switch style {
	case domain.StyleMetaphor:
		return "特に「例え話」を重視して説明してください。子供が想像しやすい身近なものに例えてください。"
	case domain.StyleSimple:
		return "幼稚園児でもわかるくらい、とことん簡単な言葉で短く説明してください。"
	case domain.StyleDetail:
		return "少し詳しく、小学校高学年向けに科学的な仕組みも踏まえて説明してください。"
	default:
		return defaultStyleInstruction
	}
}

const explanationGuide = `### 解説の指針（起承転結）
解説は以下の「起・承・転・結」の流れを意識し、必ず4つのステップで構成してください。
1.【起】質問を褒め、身近なものに例えて全体像を伝える（導入）
2.【承】その例えを使って、仕組みや理由を具体的に広げる（展開）
3.【転】「もし〜がなかったら？」や「実はこうなんだよ」という驚きや視点の変化を与える（深掘り）
4.【結】まとめと、子供の未来や好奇心につながる励まし（結論）

### ステップのルール
- 各ステップの text は、そのステップだけを読んでも意味がわかる独立した完結文にしてください。
- 「だから」「さっきの」「前のステップで」のように、他のステップの内容を前提にする言い方は使わないでください。

### JSON形式
{
  "text": "回答全体の要約。博士が優しく語りかける100文字程度のまとめ。",
  "steps": [
    {
      "stepNumber": 1,
      "text": "ステップ1の説明文（博士の口調、独立した完結文）",
      "visualDescription": "Detailed English prompt for image generation reflecting this step's scene."
    }
  ]
}`

// ExplanationPrompt renders the explanation prompt for one persona.
func ExplanationPrompt(expert experts.Expert, q domain.Question, style domain.ExplanationStyle) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(expert.Persona))
	b.WriteString("\n\n以下の質問に対し、設定されたペルソナに基づき、小学生（低学年〜中学年）に向けて解説してください。\n")
	b.WriteString(StyleInstruction(style))
	b.WriteString("\n\n")
	b.WriteString(explanationGuide)
	b.WriteString("\n\n")
	if len(q.History) > 0 {
		b.WriteString("これまでの会話:\n")
		lines := make([]turnLine, 0, len(q.History))
		for _, t := range q.History {
			speaker := expert.NameJa
			if t.Role == string(generative.RoleUser) {
				speaker = "子供"
			}
			lines = append(lines, turnLine{speaker: speaker, content: t.Content})
		}
		historyLines(&b, lines)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "質問: \"%s\"", q.Text)
	return b.String()
}
