package handlers

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facefinder/internal/preview"
)

// StaticHandler serves preview artifacts and source images.
type StaticHandler struct {
	previews  *preview.Cache
	sourceDir string
}

func NewStaticHandler(previews *preview.Cache, sourceDir string) *StaticHandler {
	return &StaticHandler{previews: previews, sourceDir: sourceDir}
}

func (h *StaticHandler) Preview(c *gin.Context) {
	data, err := h.previews.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *StaticHandler) Source(c *gin.Context) {
	name := c.Param("name")
	if !filepath.IsLocal(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.File(filepath.Join(h.sourceDir, name))
}
