package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dougwmorrow/open-sc/internal/domain/auth"
	"github.com/dougwmorrow/open-sc/internal/infrastructure/http/v1/dto"
)

// AuthHandler handles token exchange.
type AuthHandler struct {
	*BaseHandler
	service *auth.Service
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(base *BaseHandler, service *auth.Service) *AuthHandler {
	return &AuthHandler{
		BaseHandler: base,
		service:     service,
	}
}

// Token handles POST /auth/token
func (h *AuthHandler) Token(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.TokenRequest
	if !h.BindJSON(c, &req) {
		return
	}

	token, expiresAt, err := h.service.Exchange(ctx, req.ClientID, req.APIKey)
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.TokenResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		TokenType:   "Bearer",
	})
}

// RegisterRoutes registers auth routes.
func (h *AuthHandler) RegisterRoutes(public *gin.RouterGroup) {
	public.POST("/token", h.Token)
}
