package http

import (
	"net/http"
	"strings"

	"peerwave/internal/core/services"
	"peerwave/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TokenHandler issues relay access tokens. Peers authenticate to the
// relay with a token bound to their peer id.
type TokenHandler struct {
	authService services.AuthService
}

func NewTokenHandler(authService services.AuthService) *TokenHandler {
	return &TokenHandler{authService: authService}
}

func (h *TokenHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/token", h.IssueToken)
	}
}

type TokenRequest struct {
	PeerID      string `json:"peer_id"`
	DisplayName string `json:"display_name" binding:"max=64"`
}

type TokenResponse struct {
	PeerID string `json:"peer_id"`
	Token  string `json:"token"`
}

func (h *TokenHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.PeerID = strings.TrimSpace(req.PeerID)
	if req.PeerID == "" {
		req.PeerID = uuid.NewString()
	}
	if len(req.PeerID) > 64 {
		c.Error(errors.NewInvalidInputError("peer_id too long"))
		return
	}

	token, err := h.authService.GenerateToken(req.PeerID, req.DisplayName)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to generate token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, TokenResponse{PeerID: req.PeerID, Token: token})
}
