package generation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/modules/experts"
	"github.com/yungbote/kidslab-backend/internal/modules/generative"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

type fakeText struct {
	out   string
	err   error
	calls []generative.TextRequest
}

func (f *fakeText) Provider() string { return "fake" }

func (f *fakeText) Complete(ctx context.Context, req generative.TextRequest) (string, error) {
	f.calls = append(f.calls, req)
	return f.out, f.err
}

func (f *fakeText) lastPrompt() string {
	if len(f.calls) == 0 {
		return ""
	}
	msgs := f.calls[len(f.calls)-1].Messages
	return msgs[len(msgs)-1].Text
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
		"```scientist```":         "scientist",
	}
	for in, want := range cases {
		if got := StripCodeFence(in); got != want {
			t.Fatalf("StripCodeFence(%q): want=%q got=%q", in, want, got)
		}
	}
}

func TestSelectorReturnsKnownIDOrDefault(t *testing.T) {
	catalog := experts.MustLoad(nil)
	cases := []struct {
		name   string
		out    string
		err    error
		want   domain.ExpertID
		reason string
	}{
		{"json", `{"agentId":"Astronomer","reason":"うちゅうのことがとくいだから"}`, nil, domain.ExpertAstronomer, "うちゅうのことがとくいだから"},
		{"fenced", "```json\n{\"agentId\":\" biologist\\n\"}\n```", nil, domain.ExpertBiologist, missingReason},
		{"bare id", "historian\n", nil, domain.ExpertHistorian, missingReason},
		{"unknown", `{"agentId":"plumber","reason":"x"}`, nil, domain.ExpertScientist, experts.DefaultReason},
		{"orchestrator", `{"agentId":"orchestrator","reason":"x"}`, nil, domain.ExpertScientist, experts.DefaultReason},
		{"garbage", `not json at all`, nil, domain.ExpertScientist, experts.DefaultReason},
		{"backend error", "", errors.New("503"), domain.ExpertScientist, experts.DefaultReason},
	}
	for _, tc := range cases {
		text := &fakeText{out: tc.out, err: tc.err}
		got := NewSelector(logger.NewNop(), text, catalog).Select(context.Background(), domain.Question{Text: "なんで空は青いの？"})
		if got.AgentID != tc.want || got.Reason != tc.reason {
			t.Fatalf("%s: got=%+v", tc.name, got)
		}
		if !catalog.IsKnown(got.AgentID) {
			t.Fatalf("%s: unknown id %s", tc.name, got.AgentID)
		}
	}
}

func TestSelectorPromptIncludesHistoryAndTemperature(t *testing.T) {
	text := &fakeText{out: `{"agentId":"scientist"}`}
	s := NewSelector(logger.NewNop(), text, experts.MustLoad(nil))
	s.Select(context.Background(), domain.Question{
		Text:    "ほしはなんでひかるの？",
		History: []domain.Turn{{Role: "user", Content: "こんにちは"}},
	})
	req := text.calls[0]
	if req.Temperature != 0.3 || !req.JSON {
		t.Fatalf("request: temperature=%v json=%v", req.Temperature, req.JSON)
	}
	prompt := text.lastPrompt()
	for _, want := range []string{"Current Conversation Context:\nuser: こんにちは", "- astronomer:", `User Question: "ほしはなんでひかるの？"`} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "- orchestrator:") {
		t.Fatalf("orchestrator must not be offered")
	}
}

func TestDecodeExplanationNormalizesSteps(t *testing.T) {
	raw := "```json\n" + `{"text":"そらのひみつ","steps":[
		{"stepNumber":2,"text":"二つ目","visualDescription":"b"},
		{"stepNumber":1,"text":"一つ目","visualDescription":"a"},
		{"stepNumber":3,"text":"   ","visualDescription":"c"},
		{"stepNumber":4,"text":"四つ目","visualDescription":"d"}
	]}` + "\n```"
	r, ok := DecodeExplanation(raw).(DecodedExplanation)
	if !ok {
		t.Fatalf("expected DecodedExplanation, got %#v", DecodeExplanation(raw))
	}
	if r.Dropped != 1 || len(r.Explanation.Steps) != 3 {
		t.Fatalf("dropped=%d steps=%d", r.Dropped, len(r.Explanation.Steps))
	}
	for i, s := range r.Explanation.Steps {
		if s.StepNumber != i+1 || s.Text == "" {
			t.Fatalf("step %d: %+v", i, s)
		}
	}
	if r.Explanation.Steps[0].VisualDescription != "a" || r.Explanation.Steps[2].VisualDescription != "d" {
		t.Fatalf("order not preserved: %+v", r.Explanation.Steps)
	}
}

func TestDecodeExplanationFailures(t *testing.T) {
	for _, raw := range []string{"", "{", `{"other":1}`, `[]`} {
		if _, ok := DecodeExplanation(raw).(DecodeError); !ok {
			t.Fatalf("%q: expected DecodeError", raw)
		}
	}
	r, ok := DecodeExplanation(`{"steps":[{"stepNumber":1,"text":"a"}]}`).(DecodedExplanation)
	if !ok || r.Explanation.Text != EmptyTextReply {
		t.Fatalf("missing text should fall back: %#v", r)
	}
}

func TestExplainerFallsBackOnFailure(t *testing.T) {
	catalog := experts.MustLoad(nil)
	for _, text := range []*fakeText{{err: errors.New("boom")}, {out: "not json"}} {
		got := NewExplainer(logger.NewNop(), text, catalog).Explain(context.Background(), domain.ExpertScientist, domain.Question{Text: "q"}, domain.StyleDefault)
		if got.Text != FailureText || got.HasSteps() {
			t.Fatalf("got=%+v", got)
		}
	}
}

func TestExplanationPromptStyleAndHistory(t *testing.T) {
	catalog := experts.MustLoad(nil)
	text := &fakeText{out: `{"text":"t","steps":[]}`}
	NewExplainer(logger.NewNop(), text, catalog).Explain(context.Background(), domain.ExpertScientist, domain.Question{
		Text:    "なんで空は青いの？",
		History: []domain.Turn{{Role: "user", Content: "やあ"}, {Role: "assistant", Content: "こんにちは"}},
	}, domain.StyleSimple)

	prompt := text.lastPrompt()
	scientist := catalog.Get(domain.ExpertScientist)
	for _, want := range []string{
		StyleInstruction(domain.StyleSimple),
		"【起】", "【結】",
		"これまでの会話:\n子供: やあ\n" + scientist.NameJa + ": こんにちは",
		`質問: "なんで空は青いの？"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
	if text.calls[0].Temperature != 0.7 {
		t.Fatalf("temperature: got=%v", text.calls[0].Temperature)
	}
	if StyleInstruction(domain.ExplanationStyle("other")) != defaultStyleInstruction {
		t.Fatalf("unknown style should use default instruction")
	}
}

func sampleExplanation() Explanation {
	return Explanation{Text: "まとめ", Steps: []domain.ExplanationStep{
		{StepNumber: 1, Text: "a", VisualDescription: "va"},
		{StepNumber: 2, Text: "b", VisualDescription: "vb"},
	}}
}

func TestReviewKeepsVisualDescriptions(t *testing.T) {
	text := &fakeText{out: `{"approved":false,"feedback":"やさしく","revisedText":"新しいまとめ","revisedSteps":[
		{"stepNumber":1,"text":"A","visualDescription":"changed"},
		{"stepNumber":2,"text":"B"}]}`}
	r := NewReviewer(logger.NewNop(), text, experts.MustLoad(nil))
	review, err := r.Review(context.Background(), domain.ExpertScientist, domain.Question{Text: "q"}, sampleExplanation())
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !review.HasRevision() {
		t.Fatalf("expected revision")
	}
	got := Apply(sampleExplanation(), review)
	if got.Text != "新しいまとめ" || got.Steps[0].Text != "A" || got.Steps[0].VisualDescription != "va" || got.Steps[1].VisualDescription != "vb" {
		t.Fatalf("applied: %+v", got)
	}
}

func TestApplyIgnoresApprovedOrStepless(t *testing.T) {
	ex := sampleExplanation()
	for _, review := range []*domain.EducatorReview{
		nil,
		{Approved: true, RevisedSteps: []domain.ExplanationStep{{StepNumber: 1, Text: "x"}}},
		{Approved: false, RevisedText: "only text"},
	} {
		if got := Apply(ex, review); got.Text != ex.Text || len(got.Steps) != 2 {
			t.Fatalf("review %+v should not apply: %+v", review, got)
		}
	}
}

func TestReviewErrors(t *testing.T) {
	r := NewReviewer(logger.NewNop(), &fakeText{out: `{"feedback":"x"}`}, experts.MustLoad(nil))
	if _, err := r.Review(context.Background(), domain.ExpertScientist, domain.Question{Text: "q"}, sampleExplanation()); err == nil {
		t.Fatalf("missing approved should error")
	}
	if !r.Skip(domain.ExpertEducator) || r.Skip(domain.ExpertScientist) {
		t.Fatalf("only the reviewer persona skips review")
	}
}

func TestFollowUpsCoerceAndCap(t *testing.T) {
	text := &fakeText{out: `{"questions":[
		{"question":"つきはなんでひかるの？","suggestedAgent":"astronomer","emoji":"🌙"},
		{"question":"むしはなにをたべるの？","suggestedAgent":"plumber"},
		{"question":"  ","suggestedAgent":"artist"},
		{"question":"えのぐはどうしてまざるの？","suggestedAgent":"ARTIST","emoji":"🎨"},
		{"question":"よぶん","suggestedAgent":"scientist","emoji":"x"}]}`}
	got := NewFollowUps(logger.NewNop(), text, experts.MustLoad(nil)).Suggest(context.Background(), domain.ExpertScientist, domain.Question{Text: "q"}, sampleExplanation())
	if len(got) != MaxFollowUps {
		t.Fatalf("len: want=%d got=%d", MaxFollowUps, len(got))
	}
	if got[1].SuggestedAgent != domain.ExpertScientist || got[1].Emoji != followUpEmoji {
		t.Fatalf("coercion: %+v", got[1])
	}
	if got[2].SuggestedAgent != domain.ExpertArtist {
		t.Fatalf("case-insensitive agent: %+v", got[2])
	}
}

func TestFollowUpsAcceptBareArrayAndFailures(t *testing.T) {
	catalog := experts.MustLoad(nil)
	f := NewFollowUps(logger.NewNop(), &fakeText{out: `[{"question":"なんで？","suggestedAgent":"biologist","emoji":"🐛"}]`}, catalog)
	if got := f.Suggest(context.Background(), domain.ExpertScientist, domain.Question{Text: "q"}, Explanation{Text: "t"}); len(got) != 1 {
		t.Fatalf("bare array: %+v", got)
	}
	f = NewFollowUps(logger.NewNop(), &fakeText{err: errors.New("down")}, catalog)
	if got := f.Suggest(context.Background(), domain.ExpertScientist, domain.Question{Text: "q"}, Explanation{Text: "t"}); got != nil {
		t.Fatalf("failure should yield nil: %+v", got)
	}
}
