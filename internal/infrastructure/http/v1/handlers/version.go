package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
	"github.com/dougwmorrow/open-sc/internal/domain/engine"
	"github.com/dougwmorrow/open-sc/internal/infrastructure/http/v1/dto"
)

// VersionHandler handles temporal read endpoints.
type VersionHandler struct {
	*BaseHandler
	engine *engine.Engine
}

// NewVersionHandler creates a new version handler.
func NewVersionHandler(base *BaseHandler, eng *engine.Engine) *VersionHandler {
	return &VersionHandler{
		BaseHandler: base,
		engine:      eng,
	}
}

// PointInTime handles GET /versions/:key
//
// The asOf query parameter selects the version valid at that instant;
// omitted, it defaults to now.
func (h *VersionHandler) PointInTime(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("key")

	var q dto.PointInTimeQuery
	if !h.BindQuery(c, &q) {
		return
	}

	asOf := time.Now().UTC()
	if q.AsOf != nil {
		asOf = *q.AsOf
	}

	version, err := h.engine.PointInTime(ctx, key, asOf)
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromVersion(version))
}

// Snapshot handles GET /snapshot
//
// Streams the current state of every key as newline-delimited JSON so the
// response never buffers the full dimension in memory.
func (h *VersionHandler) Snapshot(c *gin.Context) {
	ctx := c.Request.Context()

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	err := h.engine.CurrentSnapshot(ctx, func(v dimension.Version) error {
		return enc.Encode(dto.FromVersion(&v))
	})
	if err != nil {
		// Headers are already sent; the truncated stream is the signal.
		h.Error(c, err)
	}
}

// RegisterRoutes registers read routes.
func (h *VersionHandler) RegisterRoutes(protected *gin.RouterGroup) {
	protected.GET("/versions/:key", h.PointInTime)
	protected.GET("/snapshot", h.Snapshot)
}
