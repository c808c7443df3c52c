package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dougwmorrow/open-sc/internal/domain/auth"
	"github.com/dougwmorrow/open-sc/internal/domain/engine"
	"github.com/dougwmorrow/open-sc/internal/infrastructure/http/v1/dto"
)

// AdminHandler handles integrity and governance endpoints.
type AdminHandler struct {
	*BaseHandler
	engine  *engine.Engine
	clients *auth.Service
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(base *BaseHandler, eng *engine.Engine, clients *auth.Service) *AdminHandler {
	return &AdminHandler{
		BaseHandler: base,
		engine:      eng,
		clients:     clients,
	}
}

// Validate handles POST /admin/validate
func (h *AdminHandler) Validate(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ValidateRequest
	if !h.BindJSON(c, &req) {
		return
	}

	report, err := h.engine.Validate(ctx, req.BusinessKeys)
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// Repair handles POST /admin/repair
func (h *AdminHandler) Repair(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.RepairRequest
	if !h.BindJSON(c, &req) {
		return
	}

	result, err := h.engine.Repair(ctx, req.BusinessKeys)
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Erase handles POST /admin/erase
func (h *AdminHandler) Erase(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.EraseRequest
	if !h.BindJSON(c, &req) {
		return
	}

	result, err := h.engine.Erase(ctx, req.ToEraseRequest())
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RegisterClient handles POST /admin/clients
func (h *AdminHandler) RegisterClient(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.RegisterClientRequest
	if !h.BindJSON(c, &req) {
		return
	}

	if err := h.clients.Register(ctx, req.ClientID, req.APIKey, auth.Role(req.Role)); err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.SuccessResponse{Success: true, Message: "client registered"})
}

// RegisterRoutes registers admin routes.
func (h *AdminHandler) RegisterRoutes(admin *gin.RouterGroup) {
	admin.POST("/validate", h.Validate)
	admin.POST("/repair", h.Repair)
	admin.POST("/erase", h.Erase)
	admin.POST("/clients", h.RegisterClient)
}
