package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/kidslab-backend/internal/data/repos"
	"github.com/yungbote/kidslab-backend/internal/data/repos/testutil"
	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/modules/media"
	"github.com/yungbote/kidslab-backend/internal/modules/pipeline"
	"github.com/yungbote/kidslab-backend/internal/platform/dbctx"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func (m *memStore) Upload(_ context.Context, key, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", errors.New("bucket unavailable")
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return "https://cdn.test/" + key, nil
}

func strPtr(s string) *string { return &s }

func combinedDataURL(t *testing.T) string {
	t.Helper()
	raw, err := media.EncodePNG(image.NewRGBA(image.Rect(0, 0, 800, 600)))
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	return media.DataURL("image/png", raw)
}

func newRunLog(t *testing.T, store MediaStore) (*RunLogService, repos.RunRepo) {
	t.Helper()
	db := testutil.DB(t)
	runs := repos.NewRunRepo(db, testutil.Logger(t))
	return NewRunLogService(db, testutil.Logger(t), runs, store), runs
}

func parallelResponse(runID, combined string) *domain.AgentResponse {
	long := strings.Repeat("あ", 60)
	pairs := []domain.SentenceImagePair{
		{ExplanationStep: domain.ExplanationStep{StepNumber: 1, Text: "そらはひかりでできているよ", VisualDescription: long}, Status: domain.PairReady, ImageURL: strPtr(combined), AudioData: strPtr("UklGRg==")},
		{ExplanationStep: domain.ExplanationStep{StepNumber: 2, Text: "あおいひかりはちらばるよ", VisualDescription: "blue light scatters"}, Status: domain.PairGenerating, ImageURL: strPtr(combined)},
		{ExplanationStep: domain.ExplanationStep{StepNumber: 3, Text: "だからそらはあおいんだ", VisualDescription: "a child looks up"}, Status: domain.PairGenerating, ImageURL: strPtr(combined)},
	}
	return &domain.AgentResponse{
		RunID:                 runID,
		AgentID:               domain.ExpertScientist,
		Text:                  "そらがあおいのはひかりのせいだよ",
		Pairs:                 pairs,
		CombinedImageURL:      combined,
		UseParallelGeneration: true,
		Pipeline:              &domain.PipelineMetadata{SelectedAgent: domain.ExpertScientist, SelectionReason: "かがく", ProcessingTimeMs: 1200},
	}
}

func TestRunLogRecordsScenesAndUploadsPanels(t *testing.T) {
	store := &memStore{}
	svc, runs := newRunLog(t, store)
	ctx := context.Background()
	runID := uuid.NewString()

	if err := svc.StartRun(ctx, pipeline.RunRecord{RunID: runID, ChildID: "child-7", Question: domain.Question{Text: "なぜ空は青いの？"}, Mode: "parallel"}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	combined := combinedDataURL(t)
	if err := svc.CompleteRun(ctx, runID, pipeline.RunResult{Response: parallelResponse(runID, combined), ImagePrompt: "grid"}); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	if len(store.objects) != 4 {
		t.Fatalf("uploads: want combined + 3 panels, got %d", len(store.objects))
	}
	if _, ok := store.objects[fmt.Sprintf("runs/%s/combined.png", runID)]; !ok {
		t.Fatalf("combined image not uploaded: %v", store.objects)
	}

	id := uuid.MustParse(runID)
	dbc := dbctx.Background(ctx)
	run, err := runs.GetByID(dbc, id)
	if err != nil || run == nil {
		t.Fatalf("GetByID: run=%v err=%v", run, err)
	}
	if run.Status != domain.RunStatusCompleted || run.ChildID != "child-7" || run.ProcessingTimeMs != 1200 || run.StepCount != 3 {
		t.Fatalf("run: %+v", run)
	}
	var meta runMetadata
	if err := json.Unmarshal(run.Metadata, &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if media.IsDataURL(meta.CombinedImageURL) || !strings.HasPrefix(meta.CombinedImageURL, "https://cdn.test/") {
		t.Fatalf("combined url: %q", meta.CombinedImageURL)
	}

	steps, err := runs.ListSteps(dbc, id)
	if err != nil || len(steps) != 3 {
		t.Fatalf("ListSteps: steps=%d err=%v", len(steps), err)
	}
	first := steps[0]
	if first.SceneID != "scene_1" || first.AudioURL != "embedded" || first.Status != string(domain.PairReady) {
		t.Fatalf("scene 1: %+v", first)
	}
	if first.ImageHint != strings.Repeat("あ", 50)+"..." {
		t.Fatalf("image hint: %q", first.ImageHint)
	}
	if first.ImageURL != fmt.Sprintf("https://cdn.test/runs/%s/scene_1.png", runID) {
		t.Fatalf("scene 1 image: %q", first.ImageURL)
	}
	if steps[1].AudioURL != "" || steps[2].ImagePromptUsed != "a child looks up" {
		t.Fatalf("later scenes: %+v %+v", steps[1], steps[2])
	}
}

func TestRunLogNeverStoresDataURLs(t *testing.T) {
	svc, runs := newRunLog(t, &memStore{fail: true})
	ctx := context.Background()
	runID := uuid.NewString()
	if err := svc.StartRun(ctx, pipeline.RunRecord{RunID: runID, Question: domain.Question{Text: "q"}, Mode: "parallel"}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := svc.CompleteRun(ctx, runID, pipeline.RunResult{Response: parallelResponse(runID, combinedDataURL(t))}); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	steps, _ := runs.ListSteps(dbctx.Background(ctx), uuid.MustParse(runID))
	for _, s := range steps {
		if s.ImageURL != "" {
			t.Fatalf("%s: image url should be empty when upload fails, got %q", s.SceneID, s.ImageURL)
		}
	}
	run, _ := runs.GetByID(dbctx.Background(ctx), uuid.MustParse(runID))
	if run.ChildID != anonymousChild || strings.Contains(string(run.Metadata), "data:") {
		t.Fatalf("run: child=%s metadata=%s", run.ChildID, run.Metadata)
	}
}

func TestRunLogFailRunAndBadIDs(t *testing.T) {
	svc, runs := newRunLog(t, nil)
	ctx := context.Background()
	if err := svc.StartRun(ctx, pipeline.RunRecord{RunID: "not-a-uuid"}); err == nil {
		t.Fatalf("expected invalid run id error")
	}
	runID := uuid.NewString()
	if err := svc.StartRun(ctx, pipeline.RunRecord{RunID: runID, Question: domain.Question{Text: "q"}, Mode: "legacy"}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := svc.FailRun(ctx, runID, errors.New("boom")); err != nil {
		t.Fatalf("FailRun: %v", err)
	}
	run, _ := runs.GetByID(dbctx.Background(ctx), uuid.MustParse(runID))
	if run.Status != domain.RunStatusFailed || !strings.Contains(string(run.Metadata), "boom") {
		t.Fatalf("failed run: %+v", run)
	}
}

func TestRunLogLegacySteps(t *testing.T) {
	svc, runs := newRunLog(t, nil)
	ctx := context.Background()
	runID := uuid.NewString()
	_ = svc.StartRun(ctx, pipeline.RunRecord{RunID: runID, Question: domain.Question{Text: "q"}, Mode: "legacy"})
	resp := &domain.AgentResponse{
		AgentID:  domain.ExpertScientist,
		Text:     "t",
		Steps:    []domain.ExplanationStep{{StepNumber: 1, Text: "a", VisualDescription: "v1"}, {StepNumber: 2, Text: "b", VisualDescription: "v2"}},
		ImageURL: "data:image/png;base64,AAAA",
	}
	if err := svc.CompleteRun(ctx, runID, pipeline.RunResult{Response: resp}); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	steps, _ := runs.ListSteps(dbctx.Background(ctx), uuid.MustParse(runID))
	if len(steps) != 2 || steps[1].SceneID != "scene_2" || steps[0].Status != string(domain.PairPending) {
		t.Fatalf("legacy steps: %+v", steps)
	}
}

func TestImageHint(t *testing.T) {
	if got := ImageHint("short"); got != "short" {
		t.Fatalf("short hint: %q", got)
	}
	if got := ImageHint(strings.Repeat("x", 51)); got != strings.Repeat("x", 50)+"..." {
		t.Fatalf("long hint: %q", got)
	}
}
