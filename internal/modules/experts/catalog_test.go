package experts

import (
	"strings"
	"testing"

	"github.com/yungbote/kidslab-backend/internal/domain"
)

func TestEmbeddedCatalogLoads(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.IDs()) != 7 {
		t.Fatalf("ids: want=7 got=%v", c.IDs())
	}
	if c.DefaultID() != domain.ExpertScientist || c.ReviewerID() != domain.ExpertEducator {
		t.Fatalf("default/reviewer: got=%s/%s", c.DefaultID(), c.ReviewerID())
	}
	quark, ok := c.Lookup(domain.ExpertScientist)
	if !ok || quark.NameJa != "クオーク博士" || quark.Avatar != "/avatars/professor.png" {
		t.Fatalf("scientist: got=%+v", quark)
	}
	if quark.Voice("gemini") != "charon" {
		t.Fatalf("scientist gemini voice: got=%s", quark.Voice("gemini"))
	}
	if quark.Voice("elevenlabs") != DefaultVoice {
		t.Fatalf("unknown provider voice: got=%s", quark.Voice("elevenlabs"))
	}
}

func TestSelectableExcludesOrchestrator(t *testing.T) {
	c := MustLoad(nil)
	for _, e := range c.Selectable() {
		if e.ID == domain.ExpertOrchestrator {
			t.Fatalf("orchestrator must not be selectable")
		}
	}
	if got := len(c.Selectable()); got != 6 {
		t.Fatalf("selectable: want=6 got=%d", got)
	}
}

func TestGetFallsBackToDefault(t *testing.T) {
	c := MustLoad(nil)
	if c.IsKnown("plumber") {
		t.Fatalf("plumber should be unknown")
	}
	if got := c.Get("plumber").ID; got != Default {
		t.Fatalf("fallback: want=%s got=%s", Default, got)
	}
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	cases := map[string]string{
		"empty":      "experts: []",
		"duplicate":  "experts:\n  - {id: a, name_ja: A, persona: p}\n  - {id: A, name_ja: B, persona: q}",
		"no persona": "default: a\nreviewer: a\nexperts:\n  - {id: a, name_ja: A}",
		"no default": "experts:\n  - {id: a, name_ja: A, persona: p}",
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	c, err := Parse([]byte("default: a\nreviewer: a\nexperts:\n  - {id: ' A ', name_ja: A, persona: p}"))
	if err != nil {
		t.Fatalf("minimal catalog: %v", err)
	}
	if !c.IsKnown("a") || !strings.EqualFold(string(c.IDs()[0]), "a") {
		t.Fatalf("ids should be normalized: %v", c.IDs())
	}
}
