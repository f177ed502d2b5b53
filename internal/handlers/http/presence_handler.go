package http

import (
	"context"
	"net/http"
	"time"

	"peerwave/internal/core/domain"
	"peerwave/internal/core/ports"
	"peerwave/pkg/errors"

	"github.com/gin-gonic/gin"
)

// PresenceHandler exposes broadcast liveness lookups so clients can
// check whether a host is live before joining.
type PresenceHandler struct {
	presence ports.PresenceStore
}

func NewPresenceHandler(presence ports.PresenceStore) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

func (h *PresenceHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/live/:id", h.GetLiveStatus)
	}
}

type LiveStatusResponse struct {
	PeerID string `json:"peer_id"`
	Live   bool   `json:"live"`
}

func (h *PresenceHandler) GetLiveStatus(c *gin.Context) {
	peerID := domain.PeerID(c.Param("id"))
	if peerID == "" {
		c.Error(errors.NewInvalidInputError("peer id required"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	live, err := h.presence.IsLive(ctx, peerID)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeServiceUnavailable, "presence lookup failed", http.StatusServiceUnavailable))
		return
	}

	c.JSON(http.StatusOK, LiveStatusResponse{PeerID: string(peerID), Live: live})
}
