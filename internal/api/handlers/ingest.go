package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facefinder/pkg/dto"
)

// CommandPublisher queues ingestion commands for the ingestor.
type CommandPublisher interface {
	PublishIngestCommand(ctx context.Context, runID string, data any) error
	PendingCommands(ctx context.Context) (uint64, error)
}

type IngestHandler struct {
	commands CommandPublisher
}

func NewIngestHandler(commands CommandPublisher) *IngestHandler {
	return &IngestHandler{commands: commands}
}

// Trigger queues a scan and returns its run ID so the caller can follow
// progress on the WebSocket before the run starts.
func (h *IngestHandler) Trigger(c *gin.Context) {
	runID := uuid.New().String()
	cmd := dto.IngestCommand{
		Action:      "scan",
		RunID:       runID,
		RequestedBy: c.ClientIP(),
	}
	if err := h.commands.PublishIngestCommand(c.Request.Context(), runID, cmd); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.IngestTriggerResponse{RunID: runID, Status: "queued"})
}

func (h *IngestHandler) Pending(c *gin.Context) {
	n, err := h.commands.PendingCommands(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": n})
}
