package runs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/kidslab-backend/internal/data/repos/testutil"
	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/platform/dbctx"
)

func TestRunRepoLifecycle(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewRunRepo(db, testutil.Logger(t))

	run, err := repo.Create(dbc, &domain.Run{ChildID: "child-1", Question: "なぜ空は青いの？", Mode: "parallel"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if run.ID == uuid.Nil || run.Status != domain.RunStatusRunning {
		t.Fatalf("create defaults: id=%s status=%s", run.ID, run.Status)
	}

	for i := 2; i >= 1; i-- {
		step := &domain.RunStep{RunID: run.ID, SceneID: "scene_x", Order: i, Script: "s", Status: "ready"}
		if err := repo.AppendStep(dbc, step); err != nil {
			t.Fatalf("AppendStep(%d): %v", i, err)
		}
	}
	if err := repo.AppendStep(dbc, &domain.RunStep{RunID: run.ID, Order: 1, Script: "dup"}); err == nil {
		t.Fatalf("duplicate step order should fail")
	}

	steps, err := repo.ListSteps(dbc, run.ID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 2 || steps[0].Order != 1 || steps[1].Order != 2 {
		t.Fatalf("steps not ordered: %+v", steps)
	}

	done := time.Now().Add(-time.Second)
	if err := repo.Complete(dbc, run.ID, done, map[string]interface{}{"summary": "ひかりのおはなし"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, err := repo.GetByID(dbc, run.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: run=%v err=%v", got, err)
	}
	if got.Status != domain.RunStatusCompleted || got.CompletedAt == nil || got.Summary != "ひかりのおはなし" {
		t.Fatalf("completed run: %+v", got)
	}
	if got.StepCount != 2 {
		t.Fatalf("step_count: want=2 got=%d", got.StepCount)
	}
}

func TestRunRepoGetMissingReturnsNil(t *testing.T) {
	db := testutil.DB(t)
	repo := NewRunRepo(db, testutil.Logger(t))
	got, err := repo.GetByID(dbctx.Background(context.Background()), uuid.New())
	if err != nil || got != nil {
		t.Fatalf("missing run: got=%v err=%v", got, err)
	}
}

func TestListByChildNewestFirst(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewRunRepo(db, testutil.Logger(t))

	base := time.Now().UTC().Add(-time.Hour)
	for i, child := range []string{"a", "a", "b", "a"} {
		run := &domain.Run{ChildID: child, Question: "q", Mode: "legacy", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if _, err := repo.Create(dbc, run); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	list, err := repo.ListByChild(dbc, "a", 2)
	if err != nil {
		t.Fatalf("ListByChild: %v", err)
	}
	if len(list) != 2 || !list[0].CreatedAt.After(list[1].CreatedAt) {
		t.Fatalf("want 2 newest runs, got %+v", list)
	}
	if empty, _ := repo.ListByChild(dbc, "", 10); len(empty) != 0 {
		t.Fatalf("blank child should list nothing")
	}
}
