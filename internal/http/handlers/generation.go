package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/http/response"
	"github.com/yungbote/kidslab-backend/internal/modules/generation"
	"github.com/yungbote/kidslab-backend/internal/modules/pipeline"
	"github.com/yungbote/kidslab-backend/internal/platform/apierr"
	"github.com/yungbote/kidslab-backend/internal/platform/ctxutil"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

// maxQuestionRunes bounds what a child can type or say in one question.
const maxQuestionRunes = 500

// Pipeline is the orchestrator surface the generation endpoints call.
type Pipeline interface {
	Select(ctx context.Context, q domain.Question) generation.Selection
	Parallel(ctx context.Context, req pipeline.Request) (*domain.AgentResponse, error)
	Legacy(ctx context.Context, req pipeline.Request) (*domain.AgentResponse, error)
	SynthesizeSpeech(ctx context.Context, agent domain.ExpertID, text string) (string, bool)
	SynthesizeStepAudio(ctx context.Context, pairID string, agent domain.ExpertID, text string) (string, bool)
	SynthesizeStepImage(ctx context.Context, pairID, visualDescription string) domain.StepImageResult
}

type GenerationHandler struct {
	log         *logger.Logger
	pipeline    Pipeline
	defaultMode string
}

func NewGenerationHandler(log *logger.Logger, p Pipeline, defaultMode string) *GenerationHandler {
	return &GenerationHandler{
		log:         log.With("handler", "GenerationHandler"),
		pipeline:    p,
		defaultMode: pipeline.ParseMode(defaultMode, pipeline.ModeParallel),
	}
}

type questionRequest struct {
	Question string        `json:"question"`
	History  []domain.Turn `json:"history"`
}

func (r questionRequest) toQuestion() (domain.Question, error) {
	text := strings.TrimSpace(r.Question)
	if text == "" {
		return domain.Question{}, apierr.BadRequest("question is required")
	}
	if len([]rune(text)) > maxQuestionRunes {
		return domain.Question{}, apierr.BadRequest("question is longer than %d characters", maxQuestionRunes)
	}
	return domain.Question{Text: text, History: r.History}, nil
}

// POST /api/experts/select
func (h *GenerationHandler) SelectExpert(c *gin.Context) {
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.BadRequest("invalid body: %v", err))
		return
	}
	q, err := req.toQuestion()
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, h.pipeline.Select(c.Request.Context(), q))
}

type generateRequest struct {
	questionRequest
	AgentID         string `json:"agentId"`
	SelectionReason string `json:"selectionReason"`
	Style           string `json:"style"`
	Mode            string `json:"mode"`
	RunID           string `json:"runId"`
}

// POST /api/responses
func (h *GenerationHandler) GenerateResponse(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.BadRequest("invalid body: %v", err))
		return
	}
	q, err := req.toQuestion()
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	runID := strings.TrimSpace(req.RunID)
	if runID != "" {
		if _, err := uuid.Parse(runID); err != nil {
			response.RespondAPIError(c, apierr.BadRequest("runId must be a uuid"))
			return
		}
	}
	preq := pipeline.Request{
		RunID:           runID,
		ChildID:         ctxutil.ChildID(c.Request.Context()),
		AgentID:         domain.ExpertID(strings.ToLower(strings.TrimSpace(req.AgentID))),
		SelectionReason: req.SelectionReason,
		Question:        q,
		Style:           domain.ParseStyle(req.Style),
	}

	run := h.pipeline.Parallel
	if pipeline.ParseMode(req.Mode, h.defaultMode) == pipeline.ModeLegacy {
		run = h.pipeline.Legacy
	}
	resp, err := run(c.Request.Context(), preq)
	if err != nil {
		if errors.Is(err, pipeline.ErrPipelineFailed) {
			_ = c.Error(err)
			response.RespondError(c, http.StatusInternalServerError, apierr.CodePipelineFailed, pipeline.ErrPipelineFailed)
			return
		}
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, resp)
}

type speechRequest struct {
	Text    string `json:"text"`
	AgentID string `json:"agentId"`
}

type audioResponse struct {
	AudioData *string `json:"audioData"`
}

// POST /api/speech
func (h *GenerationHandler) Speech(c *gin.Context) {
	var req speechRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.BadRequest("invalid body: %v", err))
		return
	}
	audio, ok := h.pipeline.SynthesizeSpeech(c.Request.Context(), domain.ExpertID(req.AgentID), req.Text)
	response.RespondOK(c, toAudioResponse(audio, ok))
}

type stepAudioRequest struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	AgentID string `json:"agentId"`
}

// POST /api/step-audio
func (h *GenerationHandler) StepAudio(c *gin.Context) {
	var req stepAudioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.BadRequest("invalid body: %v", err))
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		response.RespondAPIError(c, apierr.BadRequest("id is required"))
		return
	}
	audio, ok := h.pipeline.SynthesizeStepAudio(c.Request.Context(), req.ID, domain.ExpertID(req.AgentID), req.Text)
	response.RespondOK(c, toAudioResponse(audio, ok))
}

type stepImageRequest struct {
	ID                string `json:"id"`
	VisualDescription string `json:"visualDescription"`
}

// POST /api/step-images
func (h *GenerationHandler) StepImage(c *gin.Context) {
	var req stepImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.BadRequest("invalid body: %v", err))
		return
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.VisualDescription) == "" {
		response.RespondAPIError(c, apierr.BadRequest("id and visualDescription are required"))
		return
	}
	response.RespondOK(c, h.pipeline.SynthesizeStepImage(c.Request.Context(), req.ID, req.VisualDescription))
}

func toAudioResponse(audio string, ok bool) audioResponse {
	if !ok {
		return audioResponse{}
	}
	return audioResponse{AudioData: &audio}
}
