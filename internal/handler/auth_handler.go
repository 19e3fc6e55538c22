// Package handler provides HTTP handlers for API endpoints.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sentinal-relay/internal/services"
	"sentinal-relay/internal/transport/httpdto"
)

// AuthHandler issues tokens. There is no credential flow: the dev-token
// route exists only outside release mode.
type AuthHandler struct {
	service *services.AuthService
}

func NewAuthHandler(service *services.AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

// DevToken handles POST /v1/auth/dev-token
func (h *AuthHandler) DevToken(c *gin.Context) {
	var req httpdto.DevTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_INPUT"))
		return
	}

	res, err := h.service.IssueForHandle(c.Request.Context(), req.Handle)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.AuthResponse{
		AccessToken: res.AccessToken,
		ExpiresIn:   res.ExpiresIn,
		SessionID:   res.SessionID,
		User: httpdto.AuthUserDTO{
			ID:          res.User.ID,
			Handle:      res.User.Handle,
			DisplayName: res.User.DisplayName,
		},
	}))
}
