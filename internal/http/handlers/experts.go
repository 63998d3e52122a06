package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/http/response"
	"github.com/yungbote/kidslab-backend/internal/modules/experts"
	"github.com/yungbote/kidslab-backend/internal/modules/media"
	"github.com/yungbote/kidslab-backend/internal/platform/apierr"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

type ExpertsHandler struct {
	log     *logger.Logger
	catalog *experts.Catalog
	avatars *media.AvatarRenderer
}

func NewExpertsHandler(log *logger.Logger, catalog *experts.Catalog, avatars *media.AvatarRenderer) *ExpertsHandler {
	return &ExpertsHandler{log: log.With("handler", "ExpertsHandler"), catalog: catalog, avatars: avatars}
}

// GET /api/experts
func (h *ExpertsHandler) List(c *gin.Context) {
	response.RespondOK(c, gin.H{
		"experts":  h.catalog.Experts,
		"default":  h.catalog.DefaultID(),
		"reviewer": h.catalog.ReviewerID(),
	})
}

// GET /api/experts/:id/avatar.png
func (h *ExpertsHandler) Avatar(c *gin.Context) {
	if h.avatars == nil {
		response.RespondAPIError(c, apierr.Disabled("avatar rendering"))
		return
	}
	id := domain.ExpertID(strings.ToLower(strings.TrimSpace(c.Param("id"))))
	e, ok := h.catalog.Lookup(id)
	if !ok {
		response.RespondAPIError(c, apierr.NotFound("expert"))
		return
	}
	png, err := h.avatars.Render(e)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", png)
}
