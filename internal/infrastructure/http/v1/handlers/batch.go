package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dougwmorrow/open-sc/internal/domain/engine"
	"github.com/dougwmorrow/open-sc/internal/infrastructure/http/v1/dto"
)

// BatchHandler handles batch application endpoints.
type BatchHandler struct {
	*BaseHandler
	engine *engine.Engine
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(base *BaseHandler, eng *engine.Engine) *BatchHandler {
	return &BatchHandler{
		BaseHandler: base,
		engine:      eng,
	}
}

// Apply handles POST /batches
//
// Replaying an already applied batch returns the original result with
// skippedDuplicateBatch set; callers may retry freely.
func (h *BatchHandler) Apply(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ApplyBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}

	result, err := h.engine.ApplyBatch(ctx, req.ToApplyRequest())
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromBatchResult(result))
}

// LastCheckpoint handles GET /batches/checkpoint
func (h *BatchHandler) LastCheckpoint(c *gin.Context) {
	ctx := c.Request.Context()

	cp, err := h.engine.LastCheckpoint(ctx)
	if err != nil {
		h.Error(c, err)
		return
	}
	if cp == nil {
		c.JSON(http.StatusOK, gin.H{"checkpoint": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"checkpoint": dto.FromCheckpoint(cp)})
}

// RegisterRoutes registers batch routes on the writer group.
func (h *BatchHandler) RegisterRoutes(writer *gin.RouterGroup) {
	writer.POST("/batches", h.Apply)
	writer.GET("/batches/checkpoint", h.LastCheckpoint)
}
