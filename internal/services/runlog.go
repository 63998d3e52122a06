package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/kidslab-backend/internal/data/repos"
	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/modules/media"
	"github.com/yungbote/kidslab-backend/internal/modules/pipeline"
	"github.com/yungbote/kidslab-backend/internal/platform/dbctx"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

const (
	imageHintRunes = 50
	embeddedAudio  = "embedded"
	anonymousChild = "anonymous"
)

// MediaStore uploads run media and returns its public URL.
type MediaStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

type runMetadata struct {
	CombinedImageURL  string                    `json:"combinedImageUrl,omitempty"`
	ImageURL          string                    `json:"imageUrl,omitempty"`
	FollowUpQuestions []domain.FollowUpQuestion `json:"followUpQuestions,omitempty"`
	Pipeline          *domain.PipelineMetadata  `json:"agentPipeline,omitempty"`
	Error             string                    `json:"error,omitempty"`
}

// RunLogService records runs and their scenes. Inline images are moved to
// object storage; data URLs never reach the database.
type RunLogService struct {
	db    *gorm.DB
	log   *logger.Logger
	runs  repos.RunRepo
	media MediaStore
}

// NewRunLogService accepts a nil media store; inline images are then dropped.
func NewRunLogService(db *gorm.DB, log *logger.Logger, runs repos.RunRepo, media MediaStore) *RunLogService {
	return &RunLogService{
		db:    db,
		log:   log.With("service", "RunLogService"),
		runs:  runs,
		media: media,
	}
}

func (s *RunLogService) StartRun(ctx context.Context, rec pipeline.RunRecord) error {
	id, err := uuid.Parse(rec.RunID)
	if err != nil {
		return fmt.Errorf("run id %q: %w", rec.RunID, err)
	}
	child := strings.TrimSpace(rec.ChildID)
	if child == "" {
		child = anonymousChild
	}
	style := string(rec.Style)
	if style == "" {
		style = string(domain.StyleDefault)
	}
	_, err = s.runs.Create(dbctx.Background(ctx), &domain.Run{
		ID:       id,
		ChildID:  child,
		Question: rec.Question.Text,
		Style:    style,
		Mode:     rec.Mode,
		Status:   domain.RunStatusRunning,
	})
	return err
}

func (s *RunLogService) CompleteRun(ctx context.Context, runID string, res pipeline.RunResult) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("run id %q: %w", runID, err)
	}
	resp := res.Response
	if resp == nil {
		return fmt.Errorf("run %s: nil response", runID)
	}

	meta := runMetadata{FollowUpQuestions: resp.FollowUpQuestions, Pipeline: resp.Pipeline}
	var steps []*domain.RunStep
	if len(resp.Pairs) > 0 {
		var panels []string
		meta.CombinedImageURL, panels = s.storeCombined(ctx, runID, resp.CombinedImageURL, len(resp.Pairs))
		steps = pairSteps(id, resp.Pairs, panels)
	} else {
		meta.ImageURL = s.storeImage(ctx, runID+"/single", resp.ImageURL)
		steps = legacySteps(id, resp.Steps)
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		"expert_id": string(resp.AgentID),
		"summary":   resp.Text,
		"metadata":  datatypes.JSON(rawMeta),
	}
	if resp.Pipeline != nil {
		fields["selection_reason"] = resp.Pipeline.SelectionReason
		fields["processing_time_ms"] = resp.Pipeline.ProcessingTimeMs
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		for _, step := range steps {
			if err := s.runs.AppendStep(dbc, step); err != nil {
				return fmt.Errorf("append %s: %w", step.SceneID, err)
			}
		}
		return s.runs.Complete(dbc, id, time.Now(), fields)
	})
}

func (s *RunLogService) FailRun(ctx context.Context, runID string, cause error) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("run id %q: %w", runID, err)
	}
	msg := "unknown"
	if cause != nil {
		msg = cause.Error()
	}
	rawMeta, _ := json.Marshal(runMetadata{Error: msg})
	return s.runs.UpdateFields(dbctx.Background(ctx), id, map[string]interface{}{
		"status":   domain.RunStatusFailed,
		"metadata": datatypes.JSON(rawMeta),
	})
}

// storeCombined uploads the combined image and one crop per pair. Upload
// failures degrade to empty URLs.
func (s *RunLogService) storeCombined(ctx context.Context, runID, url string, pairs int) (string, []string) {
	if !media.IsDataURL(url) {
		return url, nil
	}
	if s.media == nil {
		return "", nil
	}
	mime, raw, err := media.ParseDataURL(url)
	if err != nil {
		s.log.Warn("combined image unreadable", "run_id", runID, "error", err)
		return "", nil
	}
	combined, err := s.media.Upload(ctx, mediaKey(runID+"/combined", mime), mime, raw)
	if err != nil {
		s.log.Warn("combined image upload failed", "run_id", runID, "error", err)
		return "", nil
	}

	img, err := media.DecodeImage(raw)
	if err != nil {
		s.log.Warn("combined image decode failed", "run_id", runID, "error", err)
		return combined, nil
	}
	crops := media.SplitPanels(img, pairs)
	panels := make([]string, len(crops))
	for i, crop := range crops {
		if i >= pairs {
			break
		}
		png, err := media.EncodePNG(crop)
		if err != nil {
			continue
		}
		u, err := s.media.Upload(ctx, fmt.Sprintf("runs/%s/scene_%d.png", runID, i+1), "image/png", png)
		if err != nil {
			s.log.Warn("panel upload failed", "run_id", runID, "panel", i+1, "error", err)
			continue
		}
		panels[i] = u
	}
	return combined, panels
}

func (s *RunLogService) storeImage(ctx context.Context, name, url string) string {
	if !media.IsDataURL(url) {
		return url
	}
	if s.media == nil {
		return ""
	}
	mime, raw, err := media.ParseDataURL(url)
	if err != nil {
		return ""
	}
	u, err := s.media.Upload(ctx, mediaKey(name, mime), mime, raw)
	if err != nil {
		s.log.Warn("image upload failed", "key", name, "error", err)
		return ""
	}
	return u
}

func pairSteps(runID uuid.UUID, pairs []domain.SentenceImagePair, panels []string) []*domain.RunStep {
	out := make([]*domain.RunStep, 0, len(pairs))
	for i, p := range pairs {
		step := newRunStep(runID, i, p.ExplanationStep)
		step.Status = string(p.Status)
		switch {
		case i < len(panels) && panels[i] != "":
			step.ImageURL = panels[i]
		case p.ImageURL != nil && !media.IsDataURL(*p.ImageURL):
			step.ImageURL = *p.ImageURL
		}
		if p.AudioData != nil && *p.AudioData != "" {
			step.AudioURL = embeddedAudio
		}
		out = append(out, step)
	}
	return out
}

func legacySteps(runID uuid.UUID, steps []domain.ExplanationStep) []*domain.RunStep {
	out := make([]*domain.RunStep, 0, len(steps))
	for i, st := range steps {
		step := newRunStep(runID, i, st)
		step.Status = string(domain.PairPending)
		out = append(out, step)
	}
	return out
}

func newRunStep(runID uuid.UUID, i int, st domain.ExplanationStep) *domain.RunStep {
	return &domain.RunStep{
		RunID:           runID,
		SceneID:         fmt.Sprintf("scene_%d", i+1),
		Order:           i + 1,
		Script:          st.Text,
		ImagePromptUsed: st.VisualDescription,
		ImageHint:       ImageHint(st.VisualDescription),
	}
}

// ImageHint keeps the first 50 characters of a visual description.
func ImageHint(vd string) string {
	r := []rune(vd)
	if len(r) <= imageHintRunes {
		return vd
	}
	return string(r[:imageHintRunes]) + "..."
}

func mediaKey(name, mime string) string {
	ext := ".png"
	switch mime {
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	}
	return "runs/" + name + ext
}
