package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/kidslab-backend/internal/data/repos"
	"github.com/yungbote/kidslab-backend/internal/http/response"
	"github.com/yungbote/kidslab-backend/internal/platform/apierr"
	"github.com/yungbote/kidslab-backend/internal/platform/ctxutil"
	"github.com/yungbote/kidslab-backend/internal/platform/dbctx"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

const defaultRunListLimit = 20

type RunsHandler struct {
	log  *logger.Logger
	runs repos.RunRepo
}

// NewRunsHandler accepts a nil repo when the run store is disabled.
func NewRunsHandler(log *logger.Logger, runs repos.RunRepo) *RunsHandler {
	return &RunsHandler{log: log.With("handler", "RunsHandler"), runs: runs}
}

// GET /api/runs
func (h *RunsHandler) List(c *gin.Context) {
	if h.runs == nil {
		response.RespondAPIError(c, apierr.Disabled("run history"))
		return
	}
	limit := defaultRunListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.RespondAPIError(c, apierr.BadRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}
	ctx := c.Request.Context()
	runs, err := h.runs.ListByChild(dbctx.Background(ctx), ctxutil.ChildID(ctx), limit)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"runs": runs})
}

// GET /api/runs/:id
// Runs of other children are reported as missing.
func (h *RunsHandler) Get(c *gin.Context) {
	if h.runs == nil {
		response.RespondAPIError(c, apierr.Disabled("run history"))
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, apierr.BadRequest("invalid run id"))
		return
	}
	ctx := c.Request.Context()
	dbc := dbctx.Background(ctx)
	run, err := h.runs.GetByID(dbc, id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if run == nil || run.ChildID != ctxutil.ChildID(ctx) {
		response.RespondAPIError(c, apierr.NotFound("run"))
		return
	}
	steps, err := h.runs.ListSteps(dbc, id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"run": run, "steps": steps})
}
