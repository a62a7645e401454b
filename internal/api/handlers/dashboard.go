package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facefinder/internal/storage"
	"github.com/your-org/facefinder/pkg/dto"
)

type DashboardHandler struct {
	repo storage.FaceRepository
	now  func() time.Time
}

func NewDashboardHandler(repo storage.FaceRepository) *DashboardHandler {
	return &DashboardHandler{repo: repo, now: time.Now}
}

func (h *DashboardHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	total, err := h.repo.CountFaces(ctx, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	since := h.now().Add(-24 * time.Hour)
	recent, err := h.repo.CountFaces(ctx, &since)
	if err != nil {
		respondError(c, err)
		return
	}
	users, err := h.repo.CountUsers(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.DashboardResponse{
		TotalFaces:   total,
		FacesLast24h: recent,
		Users:        users,
	})
}
